package main

import "github.com/CRT-AUTO/message-gateway/cmd"

func main() {
	cmd.Execute()
}
