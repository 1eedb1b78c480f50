// Package speech converts between user audio and text for the onboarding flow.
package speech

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrEmptyAudio is returned when a transcription request carries no bytes.
	ErrEmptyAudio = errors.New("empty audio payload")
	// ErrUnreadableAudio is returned when the payload cannot be decoded.
	ErrUnreadableAudio = errors.New("audio payload could not be decoded")
	// ErrAudioTooLarge is returned for payloads over MaxAudioBytes.
	ErrAudioTooLarge = errors.New("audio payload exceeds size limit")
)

// MaxAudioBytes bounds a single transcription request.
const MaxAudioBytes = 25 << 20

// Provider is the interface for speech services.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// Transcribe converts audio to text. format is a container hint such as "wav" or "webm".
	Transcribe(ctx context.Context, audio io.Reader, format string) (string, error)

	// Synthesize converts text to audio. Providers without a voice return nil, nil.
	Synthesize(ctx context.Context, text string) (*Audio, error)
}

// Audio is a synthesized clip.
type Audio struct {
	Data   []byte
	Format string
}

// readAudio reads at most MaxAudioBytes and rejects empty payloads.
func readAudio(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxAudioBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, ErrEmptyAudio
	}
	if len(data) > MaxAudioBytes {
		return nil, ErrAudioTooLarge
	}
	return data, nil
}
