package summary

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/talnote/talnote/internal/llm"
)

const systemPrompt = `You summarize meeting and voice-note transcripts.
Respond in markdown with exactly these sections:

## Title
A short descriptive title on one line.

## Summary
One or two paragraphs covering what was discussed and decided.

## Action Items
- One entry per concrete follow-up. Write "- None" if there are none.

## Key Points
- One entry per important point. Write "- None" if there are none.

Do not add any other sections or commentary.`

const (
	// streamWindow is how many lines of the response each partial adds.
	streamWindow = 2
	// streamInterval paces partial emissions.
	streamInterval = 150 * time.Millisecond
)

// LLMSummarizer summarizes via a chat-completion client. Providers answer
// with the whole summary at once; the result is replayed as a growing
// line-window stream so consumers see the same cumulative partials they
// would get from a token stream.
type LLMSummarizer struct {
	client llm.Client

	// sleep paces the replay; tests substitute a no-op.
	sleep func(time.Duration)
}

func NewLLM(client llm.Client) *LLMSummarizer {
	return &LLMSummarizer{client: client, sleep: time.Sleep}
}

func (s *LLMSummarizer) Summarize(ctx context.Context, transcript string, emit func(Partial)) error {
	if strings.TrimSpace(transcript) == "" {
		return fmt.Errorf("empty transcript")
	}

	response, err := s.client.Complete(ctx, systemPrompt, "Transcript:\n\n"+transcript)
	if err != nil {
		return fmt.Errorf("generate summary: %w", err)
	}

	lines := strings.Split(response, "\n")
	for n := streamWindow; n < len(lines); n += streamWindow {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		emit(Parse(strings.Join(lines[:n], "\n")))
		s.sleep(streamInterval)
	}

	final := Parse(response)
	if final.Title == "" && final.Body == "" {
		return fmt.Errorf("summary response had no recognizable sections")
	}
	emit(final)
	return nil
}
