// Package summary generates structured meeting summaries from transcripts.
// Providers stream cumulative partial results so the UI can render the
// summary as it forms.
package summary

import (
	"context"

	"github.com/talnote/talnote/internal/llm"
)

// Partial is a snapshot of the summary so far. Each emission supersedes the
// previous one; the last emission before a clean return is the final summary.
type Partial struct {
	Title       string
	Body        string
	ActionItems []string
	KeyPoints   []string
}

// Summarizer produces a summary of a transcript, emitting cumulative
// partials as generation progresses. The stream is finite: Summarize
// returns once the summary is complete or generation failed.
type Summarizer interface {
	Summarize(ctx context.Context, transcript string, emit func(Partial)) error
}

// New builds a summarizer from a model reference ("provider/model_name", or
// "mock" for the offline summarizer).
func New(model, apiKey string, opts ...llm.Option) (Summarizer, error) {
	if model == "mock" {
		return &Mock{}, nil
	}

	provider, modelName, err := llm.ParseModel(model)
	if err != nil {
		return nil, err
	}
	client, err := llm.NewClient(provider, apiKey, modelName, opts...)
	if err != nil {
		return nil, err
	}
	return NewLLM(client), nil
}
