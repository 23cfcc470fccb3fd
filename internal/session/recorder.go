// Package session owns the lifecycle of a single active recording: starting
// capture, pausing and resuming on interruptions, and handing the finished
// recording to the transcription queue.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/talnote/talnote/internal/audio"
	"github.com/talnote/talnote/internal/storage"
)

const (
	stateIdle      = "idle"
	stateRecording = "recording"
	statePaused    = "paused"

	// stateSwitching guards the window where a leg is being torn down or
	// brought up and no other transition may interleave.
	stateSwitching = "switching"
)

type Config struct {
	Audio audio.Config

	Now    func() time.Time
	Logger *slog.Logger
}

// Recorder drives one recording at a time. Capture runs in legs: one leg
// per uninterrupted stretch of audio, with a fresh source opened on every
// resume. The chunker carries its buffer across legs so chunk numbering and
// overlap are unaffected by pauses.
type Recorder struct {
	cfg        Config
	store      Store
	dispatcher Dispatcher
	hub        EventBroadcaster
	openSource SourceOpener
	logger     *slog.Logger

	mu          sync.Mutex
	state       string
	recordingID int64
	pauseReason string
	chunker     *audio.Chunker
	source      audio.Source
	legWaiter   chan error
}

func NewRecorder(cfg Config, store Store, dispatcher Dispatcher, hub EventBroadcaster, openSource SourceOpener) *Recorder {
	cfg.Audio = cfg.Audio.WithDefaults()
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Recorder{
		cfg:        cfg,
		store:      store,
		dispatcher: dispatcher,
		hub:        hub,
		openSource: openSource,
		logger:     cfg.Logger,
		state:      stateIdle,
	}
}

// State reports the current lifecycle state, the active recording ID (zero
// when idle), and the pause reason (empty unless paused).
func (r *Recorder) State() (string, int64, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state, r.recordingID, r.pauseReason
}

// Start begins a new recording. It refuses to start when another recording
// is active or when free disk space is already below the floor.
func (r *Recorder) Start(title string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != stateIdle {
		return 0, ErrAlreadyRecording
	}

	acfg := r.cfg.Audio
	if err := os.MkdirAll(acfg.AudioDir, 0o755); err != nil {
		return 0, fmt.Errorf("create audio directory: %w", err)
	}
	free, err := acfg.FreeSpace(acfg.AudioDir)
	if err != nil {
		return 0, fmt.Errorf("probe free storage: %w", err)
	}
	if free < acfg.StorageFloorBytes {
		return 0, audio.ErrLowStorage
	}

	startedAt := r.cfg.Now().UTC()
	if title == "" {
		title = "Recording " + startedAt.Format("2006-01-02 15:04")
	}

	id, err := r.store.CreateRecording(title, startedAt)
	if err != nil {
		return 0, fmt.Errorf("create recording: %w", err)
	}

	acfg.Warn = func(kind, message string) {
		r.hub.BroadcastWarning(id, kind, message)
		r.logger.Warn("capture warning", "recording_id", id, "kind", kind, "message", message)
	}

	chunker, err := audio.NewChunker(acfg, id, &chunkSink{recorder: r, recordingID: id})
	if err != nil {
		_ = r.store.MarkError(id, err.Error())
		return 0, err
	}

	source, err := r.openSource(acfg.SampleRate)
	if err != nil {
		wrapped := fmt.Errorf("open audio source: %w", err)
		_ = r.store.MarkError(id, wrapped.Error())
		return 0, wrapped
	}

	r.state = stateRecording
	r.recordingID = id
	r.pauseReason = ""
	r.chunker = chunker
	r.startLeg(source)

	r.hub.BroadcastRecordingStarted(id, title)
	r.logger.Info("recording started", "recording_id", id, "title", title, "sample_rate", acfg.SampleRate)
	return id, nil
}

// Pause ends the current capture leg and records the reason. Only a resume
// carrying the same reason restarts capture.
func (r *Recorder) Pause(reason string) error {
	r.mu.Lock()
	if r.state != stateRecording {
		r.mu.Unlock()
		return ErrNoActiveRecording
	}
	id := r.recordingID
	r.state = stateSwitching
	waiter, source := r.detachLeg()
	r.mu.Unlock()

	_ = source.Close()
	if err := <-waiter; err != nil {
		r.fail(id, err)
		return err
	}

	r.mu.Lock()
	r.state = statePaused
	r.pauseReason = reason
	r.mu.Unlock()

	if err := r.store.MarkPaused(id, reason); err != nil {
		return fmt.Errorf("persist pause: %w", err)
	}
	r.hub.BroadcastRecordingState(id, storage.StatusPaused, reason)
	r.logger.Info("recording paused", "recording_id", id, "reason", reason)
	return nil
}

// Resume restarts capture after a pause. The reason must match the reason
// the recording was paused with; ErrReasonMismatch is returned otherwise.
func (r *Recorder) Resume(reason string) error {
	r.mu.Lock()
	if r.state != statePaused {
		r.mu.Unlock()
		return ErrNotPaused
	}
	if reason != r.pauseReason {
		r.mu.Unlock()
		return ErrReasonMismatch
	}
	id := r.recordingID
	r.state = stateSwitching
	r.mu.Unlock()

	source, err := r.openSource(r.cfg.Audio.SampleRate)
	if err != nil {
		wrapped := fmt.Errorf("reopen audio source: %w", err)
		r.fail(id, wrapped)
		return wrapped
	}

	if err := r.store.MarkRecording(id); err != nil {
		_ = source.Close()
		wrapped := fmt.Errorf("persist resume: %w", err)
		r.fail(id, wrapped)
		return wrapped
	}

	r.mu.Lock()
	r.state = stateRecording
	r.pauseReason = ""
	r.startLeg(source)
	r.mu.Unlock()

	r.hub.BroadcastRecordingState(id, storage.StatusRecording, "")
	r.logger.Info("recording resumed", "recording_id", id, "reason", reason)
	return nil
}

// Stop ends the recording, flushes any buffered audio as a final short
// chunk, finalizes the row, and enqueues transcription.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	if r.state != stateRecording && r.state != statePaused {
		r.mu.Unlock()
		return ErrNoActiveRecording
	}
	id := r.recordingID
	chunker := r.chunker
	wasRecording := r.state == stateRecording
	r.state = stateSwitching
	var waiter chan error
	var source audio.Source
	if wasRecording {
		waiter, source = r.detachLeg()
	}
	r.mu.Unlock()

	if wasRecording {
		_ = source.Close()
		if err := <-waiter; err != nil {
			r.fail(id, err)
			return err
		}
	}

	if err := chunker.Flush(); err != nil {
		r.fail(id, err)
		return err
	}

	endedAt := r.cfg.Now().UTC()
	if err := r.store.FinalizeRecording(id, endedAt, chunker.Captured(), chunker.Chunks()); err != nil {
		wrapped := fmt.Errorf("finalize recording: %w", err)
		r.fail(id, wrapped)
		return wrapped
	}

	r.mu.Lock()
	r.reset()
	r.mu.Unlock()

	r.dispatcher.EnqueueTranscription(id)
	r.hub.BroadcastRecordingState(id, storage.StatusStopped, "")
	r.logger.Info("recording stopped", "recording_id", id, "chunks", chunker.Chunks(), "duration", chunker.Captured())
	return nil
}

func (r *Recorder) pauseIfRecording(reason string) error {
	err := r.Pause(reason)
	if errors.Is(err, ErrNoActiveRecording) {
		return nil
	}
	return err
}

func (r *Recorder) resumeIfPausedFor(reason string) error {
	err := r.Resume(reason)
	if errors.Is(err, ErrNotPaused) || errors.Is(err, ErrReasonMismatch) {
		return nil
	}
	return err
}

// startLeg launches a capture goroutine for source. Caller holds r.mu.
func (r *Recorder) startLeg(source audio.Source) {
	r.source = source
	id := r.recordingID
	chunker := r.chunker

	go func() {
		err := chunker.Run(source)

		r.mu.Lock()
		if r.legWaiter != nil {
			waiter := r.legWaiter
			r.legWaiter = nil
			r.mu.Unlock()
			waiter <- err
			return
		}
		r.mu.Unlock()

		// Nobody asked this leg to end: the source failed or storage ran
		// out mid-capture.
		_ = source.Close()
		if err == nil {
			err = errors.New("audio source ended unexpectedly")
		}
		r.fail(id, err)
	}()
}

// detachLeg arms the waiter for an intentional leg shutdown and hands back
// the source to close. Caller holds r.mu.
func (r *Recorder) detachLeg() (chan error, audio.Source) {
	waiter := make(chan error, 1)
	r.legWaiter = waiter
	source := r.source
	r.source = nil
	return waiter, source
}

// fail moves the recording into the terminal error state and frees the
// recorder for a new one.
func (r *Recorder) fail(id int64, err error) {
	r.mu.Lock()
	if r.recordingID == id {
		r.reset()
	}
	r.mu.Unlock()

	if markErr := r.store.MarkError(id, err.Error()); markErr != nil {
		r.logger.Error("mark recording errored", "recording_id", id, "error", markErr)
	}
	r.hub.BroadcastRecordingState(id, storage.StatusError, "")
	r.logger.Error("recording failed", "recording_id", id, "error", err)
}

// reset returns the recorder to idle. Caller holds r.mu.
func (r *Recorder) reset() {
	r.state = stateIdle
	r.recordingID = 0
	r.pauseReason = ""
	r.chunker = nil
	r.source = nil
	r.legWaiter = nil
}

type chunkSink struct {
	recorder    *Recorder
	recordingID int64
}

func (s *chunkSink) ChunkReady(chunk audio.Chunk) error {
	_, err := s.recorder.store.InsertChunk(storage.AudioChunk{
		RecordingID: s.recordingID,
		ChunkIndex:  chunk.Index,
		FilePath:    chunk.Path,
		StartMS:     chunk.StartMS,
		EndMS:       chunk.EndMS,
		DurationMS:  chunk.DurationMS,
		FileSize:    chunk.FileSize,
		Status:      storage.ChunkPending,
	})
	if err != nil {
		return fmt.Errorf("persist chunk %d: %w", chunk.Index, err)
	}

	s.recorder.hub.BroadcastChunkWritten(s.recordingID, chunk.Index, chunk.StartMS, chunk.EndMS)
	return nil
}
