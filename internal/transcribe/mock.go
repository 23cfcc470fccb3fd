package transcribe

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Mock is an offline transcriber for development and demos. It checks that
// the audio file exists and returns a placeholder transcript.
type Mock struct{}

func (m *Mock) Transcribe(ctx context.Context, audioPath string) (string, error) {
	if _, err := os.Stat(audioPath); err != nil {
		return "", fmt.Errorf("mock transcription: %w", err)
	}
	return fmt.Sprintf("[transcript of %s]", filepath.Base(audioPath)), nil
}
