package summary

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/talnote/talnote/internal/job"
	"github.com/talnote/talnote/internal/storage"
)

// MaxAttempts is the summary generation attempt ceiling per recording.
const MaxAttempts = 3

type Store interface {
	GetRecording(id int64) (storage.Recording, error)
	UpdateRecordingStatus(id int64, status string) error
	UpdateSummaryFields(id int64, title, body, actionItems, keyPoints, status string) error
	SetRecordingError(id int64, status, message string) error
}

type Notifier interface {
	BroadcastSummaryReady(recordingID int64, status, title string)
}

// Exporter writes a finished recording to an external artifact. Optional.
type Exporter interface {
	Export(rec storage.Recording) error
}

// Pipeline turns a finished transcript into a stored summary. Every partial
// the summarizer emits is persisted immediately, so a killed process leaves
// the best summary seen so far in the database.
type Pipeline struct {
	store      Store
	summarizer Summarizer
	hub        Notifier
	exporter   Exporter
	logger     *slog.Logger

	mu       sync.Mutex
	attempts map[int64]int
}

func NewPipeline(store Store, summarizer Summarizer, hub Notifier, exporter Exporter, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		store:      store,
		summarizer: summarizer,
		hub:        hub,
		exporter:   exporter,
		logger:     logger,
		attempts:   make(map[int64]int),
	}
}

func (p *Pipeline) Process(ctx context.Context, recordingID int64) job.Result {
	rec, err := p.store.GetRecording(recordingID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Deleted while queued; nothing left to summarize.
			p.logger.Info("recording gone, dropping summary job", "recording_id", recordingID)
			p.clearAttempts(recordingID)
			return job.Success
		}
		p.logger.Error("load recording", "recording_id", recordingID, "error", err)
		return job.Retry
	}

	switch rec.Status {
	case storage.StatusSummaryComplete, storage.StatusCompleted:
		return job.Success
	}

	// An empty transcript has nothing to summarize; close the recording out.
	if strings.TrimSpace(rec.Transcript) == "" {
		p.logger.Info("empty transcript, skipping summary", "recording_id", recordingID)
		if err := p.store.UpdateRecordingStatus(recordingID, storage.StatusCompleted); err != nil {
			return job.Retry
		}
		p.clearAttempts(recordingID)
		return job.Success
	}

	if err := p.store.UpdateRecordingStatus(recordingID, storage.StatusGeneratingSummary); err != nil {
		p.logger.Error("mark generating_summary", "recording_id", recordingID, "error", err)
		return job.Retry
	}

	var last Partial
	err = p.summarizer.Summarize(ctx, rec.Transcript, func(partial Partial) {
		last = partial
		// The recording stays generating_summary until all four summary
		// fields have landed at once.
		status := storage.StatusGeneratingSummary
		if hasAllFields(partial) {
			status = storage.StatusSummaryComplete
		}
		if err := p.persist(recordingID, partial, status); err != nil {
			p.logger.Warn("persist partial summary", "recording_id", recordingID, "error", err)
		}
	})
	if err != nil {
		return p.handleFailure(recordingID, err)
	}
	if !hasAllFields(last) {
		return p.handleFailure(recordingID, errors.New("summary ended with missing fields"))
	}

	if err := p.persist(recordingID, last, storage.StatusSummaryComplete); err != nil {
		p.logger.Error("persist summary", "recording_id", recordingID, "error", err)
		return job.Retry
	}
	if err := p.store.UpdateRecordingStatus(recordingID, storage.StatusCompleted); err != nil {
		p.logger.Error("mark completed", "recording_id", recordingID, "error", err)
		return job.Retry
	}
	p.clearAttempts(recordingID)

	if p.hub != nil {
		p.hub.BroadcastSummaryReady(recordingID, storage.StatusSummaryComplete, last.Title)
	}
	p.logger.Info("summary generated", "recording_id", recordingID, "title", last.Title)

	if p.exporter != nil {
		if rec, err := p.store.GetRecording(recordingID); err == nil {
			if err := p.exporter.Export(rec); err != nil {
				p.logger.Warn("export summary", "recording_id", recordingID, "error", err)
			}
		}
	}

	return job.Success
}

// hasAllFields reports whether every summary field has content. Only then
// may the recording leave generating_summary.
func hasAllFields(partial Partial) bool {
	return strings.TrimSpace(partial.Title) != "" &&
		strings.TrimSpace(partial.Body) != "" &&
		len(partial.ActionItems) > 0 &&
		len(partial.KeyPoints) > 0
}

func (p *Pipeline) persist(recordingID int64, partial Partial, status string) error {
	return p.store.UpdateSummaryFields(
		recordingID,
		partial.Title,
		partial.Body,
		strings.Join(partial.ActionItems, "\n"),
		strings.Join(partial.KeyPoints, "\n"),
		status,
	)
}

// handleFailure counts attempts across dispatcher retries and settles the
// recording as summary_failed once the ceiling is hit.
func (p *Pipeline) handleFailure(recordingID int64, cause error) job.Result {
	p.mu.Lock()
	p.attempts[recordingID]++
	attempts := p.attempts[recordingID]
	p.mu.Unlock()

	if attempts < MaxAttempts {
		p.logger.Warn("summary generation failed", "recording_id", recordingID, "attempt", attempts, "error", cause)
		return job.Retry
	}

	p.logger.Error("summary generation failed permanently", "recording_id", recordingID, "attempts", attempts, "error", cause)
	if err := p.store.SetRecordingError(recordingID, storage.StatusSummaryFailed, cause.Error()); err != nil {
		p.logger.Error("mark summary_failed", "recording_id", recordingID, "error", err)
	}
	p.clearAttempts(recordingID)

	if p.hub != nil {
		p.hub.BroadcastSummaryReady(recordingID, storage.StatusSummaryFailed, "")
	}
	return job.Failure
}

func (p *Pipeline) clearAttempts(recordingID int64) {
	p.mu.Lock()
	delete(p.attempts, recordingID)
	p.mu.Unlock()
}
