package speech

import (
	"context"
	"io"
	"strings"
	"unicode/utf8"
)

// SimulatedProvider stands in for a real speech service. Inbound "audio" is
// treated as UTF-8 text and no audio is synthesized.
type SimulatedProvider struct{}

// NewSimulatedProvider creates a SimulatedProvider.
func NewSimulatedProvider() *SimulatedProvider {
	return &SimulatedProvider{}
}

func (p *SimulatedProvider) Name() string {
	return "simulated"
}

func (p *SimulatedProvider) Transcribe(ctx context.Context, audio io.Reader, format string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := readAudio(audio)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		return "", ErrUnreadableAudio
	}
	return strings.TrimSpace(string(data)), nil
}

func (p *SimulatedProvider) Synthesize(ctx context.Context, text string) (*Audio, error) {
	return nil, ctx.Err()
}
