package model

import "testing"

func TestParsePlatform(t *testing.T) {
	tests := []struct {
		in     string
		want   Platform
		wantOK bool
	}{
		{"facebook", PlatformFacebook, true},
		{"instagram", PlatformInstagram, true},
		{"FACEBOOK", PlatformFacebook, true},
		{"  Instagram ", PlatformInstagram, true},
		{"telegram", PlatformFacebook, false},
		{"", PlatformFacebook, false},
	}

	for _, tt := range tests {
		got, ok := ParsePlatform(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ParsePlatform(%q) = (%s, %v), want (%s, %v)", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestPlatformValid(t *testing.T) {
	if !PlatformFacebook.Valid() || !PlatformInstagram.Valid() {
		t.Error("known platforms must be valid")
	}
	if Platform("whatsapp").Valid() {
		t.Error("unknown platform must be invalid")
	}
}
