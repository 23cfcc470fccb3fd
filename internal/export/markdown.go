// Package export renders finished recordings as markdown notes.
package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/talnote/talnote/internal/storage"
)

// Writer renders one markdown file per completed recording under dir.
type Writer struct {
	dir string
	mu  sync.Mutex
}

func NewWriter(dir string) *Writer {
	if dir == "" {
		dir = filepath.Join("data", "notes")
	}
	return &Writer{dir: dir}
}

// Export writes (or rewrites) the recording's note. The filename carries
// the start date and recording ID so repeated exports stay stable.
func (w *Writer) Export(rec storage.Recording) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", w.dir, err)
	}

	path := w.Path(rec)
	if err := os.WriteFile(path, []byte(render(rec)), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// Path returns where the recording's note lives.
func (w *Writer) Path(rec storage.Recording) string {
	name := fmt.Sprintf("%s-recording-%d.md", rec.StartedAt.Format("2006-01-02"), rec.ID)
	return filepath.Join(w.dir, name)
}

func render(rec storage.Recording) string {
	var b strings.Builder

	title := rec.SummaryTitle
	if title == "" {
		title = rec.Title
	}
	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "- Recorded: %s\n", rec.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "- Duration: %s\n\n", (time.Duration(rec.DurationMS) * time.Millisecond).String())

	if rec.SummaryBody != "" {
		fmt.Fprintf(&b, "## Summary\n\n%s\n\n", rec.SummaryBody)
	}
	writeList(&b, "Action Items", rec.SummaryActions)
	writeList(&b, "Key Points", rec.SummaryKeyPoints)

	if rec.Transcript != "" {
		fmt.Fprintf(&b, "## Transcript\n\n%s\n", rec.Transcript)
	}

	return b.String()
}

func writeList(b *strings.Builder, heading, entries string) {
	if entries == "" {
		return
	}
	fmt.Fprintf(b, "## %s\n\n", heading)
	for _, entry := range strings.Split(entries, "\n") {
		if entry = strings.TrimSpace(entry); entry != "" {
			fmt.Fprintf(b, "- %s\n", entry)
		}
	}
	b.WriteString("\n")
}
