package model

import "strings"

type Platform string

const (
	PlatformFacebook  Platform = "facebook"
	PlatformInstagram Platform = "instagram"
)

func (p Platform) String() string { return string(p) }

func (p Platform) Valid() bool {
	return p == PlatformFacebook || p == PlatformInstagram
}

// ParsePlatform normalizes input. Returns (value, true) if valid;
// otherwise (facebook, false).
func ParsePlatform(s string) (Platform, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "facebook":
		return PlatformFacebook, true
	case "instagram":
		return PlatformInstagram, true
	default:
		return PlatformFacebook, false
	}
}
