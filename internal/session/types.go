package session

import (
	"time"

	"github.com/talnote/talnote/internal/audio"
	"github.com/talnote/talnote/internal/storage"
)

type Store interface {
	CreateRecording(title string, startedAt time.Time) (int64, error)
	MarkPaused(id int64, reason string) error
	MarkRecording(id int64) error
	MarkError(id int64, message string) error
	FinalizeRecording(id int64, endedAt time.Time, duration time.Duration, totalChunks int) error
	InsertChunk(chunk storage.AudioChunk) (int64, error)
}

// Dispatcher hands a finished recording to the background job queue.
type Dispatcher interface {
	EnqueueTranscription(recordingID int64)
}

type EventBroadcaster interface {
	BroadcastRecordingStarted(recordingID int64, title string)
	BroadcastRecordingState(recordingID int64, state, reason string)
	BroadcastChunkWritten(recordingID int64, index int, startMS, endMS int64)
	BroadcastWarning(recordingID int64, kind, message string)
}

// SourceOpener opens a fresh capture source. Called once at start and once
// per resume; each capture leg gets its own source.
type SourceOpener func(sampleRate int) (audio.Source, error)
