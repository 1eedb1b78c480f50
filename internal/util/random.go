package util

import (
	"math/rand/v2"
	"strings"
)

const hexChars = "0123456789abcdef"

// GenerateRandomHex returns length random lowercase hex characters. The
// output is for human-facing names, not secrets.
func GenerateRandomHex(length int) string {
	if length <= 0 {
		return ""
	}
	var b strings.Builder
	b.Grow(length)
	for range length {
		b.WriteByte(hexChars[rand.IntN(len(hexChars))])
	}
	return b.String()
}

// GenerateRandomID returns prefix followed by hexLength random hex characters.
func GenerateRandomID(prefix string, hexLength int) string {
	return prefix + GenerateRandomHex(hexLength)
}

// GenerateRoomName returns a fresh onboarding room name such as "onboarding-3f9a1c2b".
func GenerateRoomName() string {
	return GenerateRandomID("onboarding-", 8)
}

// GenerateParticipantName returns a fresh participant identity such as "user-4be1".
func GenerateParticipantName() string {
	return GenerateRandomID("user-", 4)
}
