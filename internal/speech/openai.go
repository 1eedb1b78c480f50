package speech

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const (
	DefaultTranscriptionModel = "whisper-1"
	DefaultSpeechModel        = "tts-1"
	DefaultVoice              = "alloy"
)

// transcriber and synthesizer narrow the OpenAI client to what the provider uses.
type transcriber func(ctx context.Context, audio io.Reader, filename, model string) (string, error)
type synthesizer func(ctx context.Context, text, model, voice string) ([]byte, error)

// OpenAIOpts holds configuration for OpenAIProvider.
type OpenAIOpts struct {
	APIKey             string
	TranscriptionModel string
	SpeechModel        string
	Voice              string
}

// OpenAIOption defines a configuration option for OpenAIProvider.
type OpenAIOption func(*OpenAIOpts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) OpenAIOption {
	return func(o *OpenAIOpts) { o.APIKey = key }
}

// WithTranscriptionModel overrides DefaultTranscriptionModel.
func WithTranscriptionModel(model string) OpenAIOption {
	return func(o *OpenAIOpts) { o.TranscriptionModel = model }
}

// WithSpeechModel overrides DefaultSpeechModel.
func WithSpeechModel(model string) OpenAIOption {
	return func(o *OpenAIOpts) { o.SpeechModel = model }
}

// WithVoice overrides DefaultVoice.
func WithVoice(voice string) OpenAIOption {
	return func(o *OpenAIOpts) { o.Voice = voice }
}

// OpenAIProvider transcribes with Whisper and speaks with OpenAI TTS.
type OpenAIProvider struct {
	transcribe         transcriber
	synthesize         synthesizer
	transcriptionModel string
	speechModel        string
	voice              string
}

// NewOpenAIProvider creates a provider backed by the OpenAI audio endpoints.
func NewOpenAIProvider(opts ...OpenAIOption) (*OpenAIProvider, error) {
	cfg := OpenAIOpts{
		TranscriptionModel: DefaultTranscriptionModel,
		SpeechModel:        DefaultSpeechModel,
		Voice:              DefaultVoice,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}

	client := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	p := &OpenAIProvider{
		transcriptionModel: cfg.TranscriptionModel,
		speechModel:        cfg.SpeechModel,
		voice:              cfg.Voice,
	}
	p.transcribe = func(ctx context.Context, audio io.Reader, filename, model string) (string, error) {
		res, err := client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
			Model: openai.AudioModel(model),
			File:  openai.File(audio, filename, contentTypeFor(filename)),
		})
		if err != nil {
			return "", err
		}
		return res.Text, nil
	}
	p.synthesize = func(ctx context.Context, text, model, voice string) ([]byte, error) {
		resp, err := client.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
			Model:          openai.SpeechModel(model),
			Input:          text,
			Voice:          openai.AudioSpeechNewParamsVoice(voice),
			ResponseFormat: openai.AudioSpeechNewParamsResponseFormatMP3,
		})
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		return io.ReadAll(resp.Body)
	}
	return p, nil
}

func (p *OpenAIProvider) Name() string {
	return "openai"
}

func (p *OpenAIProvider) Transcribe(ctx context.Context, audio io.Reader, format string) (string, error) {
	data, err := readAudio(audio)
	if err != nil {
		return "", err
	}
	filename := "audio." + normalizeFormat(format)
	text, err := p.transcribe(ctx, bytes.NewReader(data), filename, p.transcriptionModel)
	if err != nil {
		slog.Error("OpenAIProvider.Transcribe failed", "error", err, "format", format, "bytes", len(data))
		return "", fmt.Errorf("transcription failed: %w", err)
	}
	slog.Debug("OpenAIProvider.Transcribe succeeded", "chars", len(text))
	return strings.TrimSpace(text), nil
}

func (p *OpenAIProvider) Synthesize(ctx context.Context, text string) (*Audio, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	data, err := p.synthesize(ctx, text, p.speechModel, p.voice)
	if err != nil {
		slog.Error("OpenAIProvider.Synthesize failed", "error", err)
		return nil, fmt.Errorf("speech synthesis failed: %w", err)
	}
	return &Audio{Data: data, Format: "mp3"}, nil
}

// normalizeFormat maps a format hint or MIME type to a file extension.
func normalizeFormat(format string) string {
	f := strings.ToLower(strings.TrimSpace(format))
	if i := strings.Index(f, ";"); i >= 0 {
		f = f[:i]
	}
	f = strings.TrimPrefix(f, "audio/")
	switch f {
	case "":
		return "wav"
	case "mpeg":
		return "mp3"
	case "x-wav", "wave":
		return "wav"
	}
	return f
}

func contentTypeFor(filename string) string {
	ext := filename[strings.LastIndex(filename, "."):]
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
