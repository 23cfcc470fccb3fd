package summary

import (
	"context"
	"fmt"
	"strings"
)

// Mock is an offline summarizer for development and demos. It emits one
// intermediate partial followed by the final summary.
type Mock struct{}

func (m *Mock) Summarize(ctx context.Context, transcript string, emit func(Partial)) error {
	if strings.TrimSpace(transcript) == "" {
		return fmt.Errorf("empty transcript")
	}

	words := strings.Fields(transcript)
	preview := strings.Join(words[:min(len(words), 10)], " ")

	emit(Partial{Title: "Recording summary"})
	emit(Partial{
		Title:       "Recording summary",
		Body:        fmt.Sprintf("The recording opens with: %s", preview),
		ActionItems: []string{"Review the full transcript"},
		KeyPoints:   []string{fmt.Sprintf("Transcript contains %d words", len(words))},
	})
	return nil
}
