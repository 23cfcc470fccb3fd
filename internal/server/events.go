package server

import (
	"strings"
	"time"
)

const EventVersion = 1

type Event struct {
	Type      string `json:"type"`
	Version   int    `json:"version"`
	Timestamp string `json:"timestamp"`
}

type RecordingStartedEvent struct {
	Event
	RecordingID int64  `json:"recording_id"`
	Title       string `json:"title"`
}

type StateChangedEvent struct {
	Event
	RecordingID int64  `json:"recording_id"`
	State       string `json:"state"`
	Reason      string `json:"reason,omitempty"`
	Label       string `json:"label"`
}

type ChunkWrittenEvent struct {
	Event
	RecordingID int64 `json:"recording_id"`
	ChunkIndex  int   `json:"chunk_index"`
	StartMS     int64 `json:"start_ms"`
	EndMS       int64 `json:"end_ms"`
}

type TranscriptReadyEvent struct {
	Event
	RecordingID int64  `json:"recording_id"`
	Status      string `json:"status"`
	Transcript  string `json:"transcript"`
}

type SummaryReadyEvent struct {
	Event
	RecordingID int64  `json:"recording_id"`
	Status      string `json:"status"`
	Title       string `json:"title"`
}

type WarningEvent struct {
	Event
	RecordingID int64  `json:"recording_id"`
	Kind        string `json:"kind"`
	Message     string `json:"message"`
}

type ConnectionEvent struct {
	Event
	Connected bool `json:"connected"`
}

// stateLabel renders a lifecycle state token for display, folding the pause
// reason in when there is one.
func stateLabel(state, reason string) string {
	switch state {
	case "idle":
		return "Idle"
	case "recording":
		return "Recording"
	case "paused":
		if reason != "" {
			return "Paused (" + strings.ReplaceAll(reason, "_", " ") + ")"
		}
		return "Paused"
	case "stopped":
		return "Stopped"
	case "error":
		return "Recording failed"
	default:
		return state
	}
}

func newEvent(eventType string, now time.Time) Event {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return Event{
		Type:      eventType,
		Version:   EventVersion,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	}
}
