// Package transcribe turns recorded audio chunks into text and assembles
// per-recording transcripts.
package transcribe

import (
	"context"
	"fmt"
)

// Transcriber converts one audio file to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
}

type Option func(*options)

type options struct {
	baseURL string
}

// WithBaseURL points the provider at a non-default API endpoint.
func WithBaseURL(url string) Option {
	return func(o *options) {
		o.baseURL = url
	}
}

// New builds a transcriber for the given provider.
func New(provider, apiKey, model string, opts ...Option) (Transcriber, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	switch provider {
	case "openai":
		return newWhisper(apiKey, model, o), nil
	case "deepgram":
		return newDeepgram(apiKey, model, o), nil
	case "mock":
		return &Mock{}, nil
	default:
		return nil, fmt.Errorf("unknown transcription provider %q: supported providers are openai, deepgram, mock", provider)
	}
}
