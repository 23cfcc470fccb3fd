package transcribe

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/talnote/talnote/internal/job"
	"github.com/talnote/talnote/internal/storage"
)

// MaxChunkRetries is the per-chunk transcription attempt ceiling. A chunk
// that still fails after this many attempts is excluded from the transcript.
const MaxChunkRetries = 3

type Store interface {
	GetRecording(id int64) (storage.Recording, error)
	UpdateRecordingStatus(id int64, status string) error
	SetRecordingError(id int64, status, message string) error
	UpdateTranscript(id int64, transcript string, transcribedChunks int, status string) error
	ChunksByRecording(recordingID int64) ([]storage.AudioChunk, error)
	UpdateChunkStatus(id int64, status, text string) error
	SetChunkError(id int64, message string) error
	IncrementChunkRetries(id int64) (int, error)
}

type Notifier interface {
	BroadcastTranscriptReady(recordingID int64, status, transcript string)
}

// Pipeline transcribes all chunks of a recording and assembles the full
// transcript in chunk order. Processing is idempotent: chunks already
// completed are skipped, so a crash-recovered or retried run only does the
// remaining work.
type Pipeline struct {
	store       Store
	transcriber Transcriber
	hub         Notifier
	logger      *slog.Logger
}

func NewPipeline(store Store, transcriber Transcriber, hub Notifier, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{store: store, transcriber: transcriber, hub: hub, logger: logger}
}

// Process runs one transcription attempt over the recording. It reports
// Retry when at least one chunk failed transiently and still has attempts
// left; the dispatcher re-invokes Process after backoff.
func (p *Pipeline) Process(ctx context.Context, recordingID int64) job.Result {
	rec, err := p.store.GetRecording(recordingID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Deleted while queued; nothing left to transcribe.
			p.logger.Info("recording gone, dropping transcription job", "recording_id", recordingID)
			return job.Success
		}
		p.logger.Error("load recording", "recording_id", recordingID, "error", err)
		return job.Retry
	}

	switch rec.Status {
	case storage.StatusTranscriptComplete, storage.StatusGeneratingSummary,
		storage.StatusSummaryComplete, storage.StatusSummaryFailed, storage.StatusCompleted:
		// Already transcribed; nothing to redo.
		return job.Success
	}

	if err := p.store.UpdateRecordingStatus(recordingID, storage.StatusTranscribing); err != nil {
		p.logger.Error("mark transcribing", "recording_id", recordingID, "error", err)
		return job.Retry
	}

	chunks, err := p.store.ChunksByRecording(recordingID)
	if err != nil {
		p.logger.Error("load chunks", "recording_id", recordingID, "error", err)
		return job.Retry
	}

	retryable := false
	for i := range chunks {
		if ctx.Err() != nil {
			return job.Retry
		}
		chunk := &chunks[i]
		if chunk.Status == storage.ChunkCompleted || chunk.Status == storage.ChunkFailed {
			continue
		}

		if err := p.processChunk(ctx, chunk); err != nil {
			retryable = true
		}
	}

	if retryable {
		return job.Retry
	}

	return p.assemble(recordingID)
}

func (p *Pipeline) processChunk(ctx context.Context, chunk *storage.AudioChunk) error {
	if _, err := os.Stat(chunk.FilePath); err != nil {
		// No file means no number of retries will help.
		p.logger.Warn("chunk audio missing", "chunk_id", chunk.ID, "path", chunk.FilePath)
		_ = p.store.SetChunkError(chunk.ID, "audio file missing")
		_ = p.store.UpdateChunkStatus(chunk.ID, storage.ChunkFailed, "")
		chunk.Status = storage.ChunkFailed
		return nil
	}

	if err := p.store.UpdateChunkStatus(chunk.ID, storage.ChunkInProgress, ""); err != nil {
		return err
	}

	text, err := p.transcriber.Transcribe(ctx, chunk.FilePath)
	if err != nil {
		retries, incErr := p.store.IncrementChunkRetries(chunk.ID)
		if incErr != nil {
			p.logger.Error("increment chunk retries", "chunk_id", chunk.ID, "error", incErr)
			retries = MaxChunkRetries
		}
		_ = p.store.SetChunkError(chunk.ID, err.Error())

		if retries >= MaxChunkRetries {
			p.logger.Warn("chunk failed permanently", "chunk_id", chunk.ID, "retries", retries, "error", err)
			_ = p.store.UpdateChunkStatus(chunk.ID, storage.ChunkFailed, "")
			chunk.Status = storage.ChunkFailed
			return nil
		}

		p.logger.Warn("chunk transcription failed", "chunk_id", chunk.ID, "retries", retries, "error", err)
		_ = p.store.UpdateChunkStatus(chunk.ID, storage.ChunkPending, "")
		chunk.Status = storage.ChunkPending
		return err
	}

	if err := p.store.UpdateChunkStatus(chunk.ID, storage.ChunkCompleted, text); err != nil {
		return err
	}
	chunk.Status = storage.ChunkCompleted
	chunk.Text = text
	return nil
}

// assemble joins completed chunk texts in chunk order. A recording with any
// permanently failed chunk keeps its partial transcript but is marked
// failed, as is one whose transcript comes out empty with nothing left to
// retry; summary generation is not chained for either.
func (p *Pipeline) assemble(recordingID int64) job.Result {
	chunks, err := p.store.ChunksByRecording(recordingID)
	if err != nil {
		p.logger.Error("reload chunks", "recording_id", recordingID, "error", err)
		return job.Retry
	}

	var parts []string
	completed := 0
	failed := 0
	for _, chunk := range chunks {
		switch chunk.Status {
		case storage.ChunkCompleted:
			completed++
			if chunk.Text != "" {
				parts = append(parts, chunk.Text)
			}
		case storage.ChunkFailed:
			failed++
		}
	}

	transcript := strings.Join(parts, " ")
	status := storage.StatusTranscriptComplete
	var failMsg string
	switch {
	case failed > 0:
		status = storage.StatusTranscriptFailed
		failMsg = fmt.Sprintf("%d of %d chunks failed transcription", failed, len(chunks))
	case transcript == "":
		// Nothing transcribable and nothing left to retry.
		status = storage.StatusTranscriptFailed
		failMsg = "no audio chunks found"
	}

	if err := p.store.UpdateTranscript(recordingID, transcript, completed, status); err != nil {
		p.logger.Error("store transcript", "recording_id", recordingID, "error", err)
		return job.Retry
	}
	if failMsg != "" {
		_ = p.store.SetRecordingError(recordingID, status, failMsg)
	}

	if p.hub != nil {
		p.hub.BroadcastTranscriptReady(recordingID, status, transcript)
	}
	p.logger.Info("transcript assembled",
		"recording_id", recordingID,
		"chunks", len(chunks),
		"completed", completed,
		"failed", failed,
	)

	if status == storage.StatusTranscriptFailed {
		return job.Failure
	}
	return job.Success
}
