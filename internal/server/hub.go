// Package server exposes the recording daemon over HTTP: a REST API for
// control and queries, and a websocket fan-out of lifecycle events.
package server

import (
	"encoding/json"
	"log"
	"sync"
	"time"
)

// Hub fans events out to websocket subscribers. It doubles as the event
// broadcaster the session, transcription, and summary components notify.
type Hub struct {
	mu      sync.RWMutex
	clients map[chan []byte]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[chan []byte]struct{})}
}

func (h *Hub) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) Unsubscribe(ch chan []byte) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
	close(ch)
}

// Broadcast delivers to every subscriber, dropping the message for clients
// whose buffers are full.
func (h *Hub) Broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.clients {
		select {
		case ch <- msg:
		default:
		}
	}
}

func (h *Hub) BroadcastRecordingStarted(recordingID int64, title string) {
	h.broadcastEvent(RecordingStartedEvent{
		Event:       newEvent("recording_started", time.Now().UTC()),
		RecordingID: recordingID,
		Title:       title,
	})
}

func (h *Hub) BroadcastRecordingState(recordingID int64, state, reason string) {
	h.broadcastEvent(StateChangedEvent{
		Event:       newEvent("state_changed", time.Now().UTC()),
		RecordingID: recordingID,
		State:       state,
		Reason:      reason,
		Label:       stateLabel(state, reason),
	})
}

func (h *Hub) BroadcastChunkWritten(recordingID int64, index int, startMS, endMS int64) {
	h.broadcastEvent(ChunkWrittenEvent{
		Event:       newEvent("chunk_written", time.Now().UTC()),
		RecordingID: recordingID,
		ChunkIndex:  index,
		StartMS:     startMS,
		EndMS:       endMS,
	})
}

func (h *Hub) BroadcastTranscriptReady(recordingID int64, status, transcript string) {
	h.broadcastEvent(TranscriptReadyEvent{
		Event:       newEvent("transcript_ready", time.Now().UTC()),
		RecordingID: recordingID,
		Status:      status,
		Transcript:  transcript,
	})
}

func (h *Hub) BroadcastSummaryReady(recordingID int64, status, title string) {
	h.broadcastEvent(SummaryReadyEvent{
		Event:       newEvent("summary_ready", time.Now().UTC()),
		RecordingID: recordingID,
		Status:      status,
		Title:       title,
	})
}

func (h *Hub) BroadcastWarning(recordingID int64, kind, message string) {
	h.broadcastEvent(WarningEvent{
		Event:       newEvent("warning", time.Now().UTC()),
		RecordingID: recordingID,
		Kind:        kind,
		Message:     message,
	})
}

func (h *Hub) broadcastEvent(event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("event marshal error: %v", err)
		return
	}
	h.Broadcast(payload)
}
