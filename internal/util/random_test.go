package util

import (
	"strings"
	"testing"
)

func isValidHex(s string) bool {
	for _, c := range s {
		if !strings.ContainsRune(hexChars, c) {
			return false
		}
	}
	return true
}

func TestGenerateRandomHex(t *testing.T) {
	tests := []struct {
		name   string
		length int
		want   int
	}{
		{"zero length", 0, 0},
		{"negative length", -1, 0},
		{"small length", 8, 8},
		{"large length", 64, 64},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GenerateRandomHex(tt.length)
			if len(got) != tt.want {
				t.Errorf("GenerateRandomHex(%d) length = %d, want %d", tt.length, len(got), tt.want)
			}
			if !isValidHex(got) {
				t.Errorf("GenerateRandomHex(%d) = %q is not hex", tt.length, got)
			}
		})
	}
}

func TestGeneratedNames(t *testing.T) {
	tests := []struct {
		name   string
		gen    func() string
		prefix string
		length int
	}{
		{"room", GenerateRoomName, "onboarding-", len("onboarding-") + 8},
		{"participant", GenerateParticipantName, "user-", len("user-") + 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.gen()
			if !strings.HasPrefix(got, tt.prefix) || len(got) != tt.length {
				t.Errorf("got %q, want prefix %q and length %d", got, tt.prefix, tt.length)
			}
			if !isValidHex(strings.TrimPrefix(got, tt.prefix)) {
				t.Errorf("suffix of %q is not hex", got)
			}
		})
	}
}
