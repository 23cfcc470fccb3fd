package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/talnote/talnote/internal/audio"
	"github.com/talnote/talnote/internal/session"
	"github.com/talnote/talnote/internal/storage"
)

type fakeController struct {
	startID  int64
	startErr error
	stopErr  error
	signals  []session.Signal
	state    string
	activeID int64
	reason   string
	stopped  bool
}

func (c *fakeController) Start(title string) (int64, error) {
	if c.startErr != nil {
		return 0, c.startErr
	}
	return c.startID, nil
}

func (c *fakeController) Stop() error {
	if c.stopErr != nil {
		return c.stopErr
	}
	c.stopped = true
	return nil
}

func (c *fakeController) Signal(sig session.Signal) error {
	c.signals = append(c.signals, sig)
	return nil
}

func (c *fakeController) State() (string, int64, string) {
	return c.state, c.activeID, c.reason
}

func newAPIStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func doRequest(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestAPIStartRecording(t *testing.T) {
	controller := &fakeController{startID: 42, state: "idle"}
	handler := Handler(NewHub(), newAPIStore(t), controller)

	rec := doRequest(t, handler, http.MethodPost, "/api/recordings", map[string]string{"title": "standup"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		ID int64 `json:"id"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID != 42 {
		t.Fatalf("expected id 42, got %d", resp.ID)
	}
}

func TestAPIStartErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{session.ErrAlreadyRecording, http.StatusConflict},
		{audio.ErrLowStorage, http.StatusInsufficientStorage},
	}

	for _, tc := range cases {
		controller := &fakeController{startErr: tc.err}
		handler := Handler(NewHub(), newAPIStore(t), controller)

		rec := doRequest(t, handler, http.MethodPost, "/api/recordings", nil)
		if rec.Code != tc.want {
			t.Fatalf("error %v: expected %d, got %d", tc.err, tc.want, rec.Code)
		}
	}
}

func TestAPIStopRequiresActiveID(t *testing.T) {
	controller := &fakeController{state: "recording", activeID: 5}
	handler := Handler(NewHub(), newAPIStore(t), controller)

	if rec := doRequest(t, handler, http.MethodPost, "/api/recordings/9/stop", nil); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for inactive id, got %d", rec.Code)
	}

	if rec := doRequest(t, handler, http.MethodPost, "/api/recordings/5/stop", nil); rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if !controller.stopped {
		t.Fatal("expected Stop to be called")
	}
}

func TestAPISignals(t *testing.T) {
	controller := &fakeController{}
	handler := Handler(NewHub(), newAPIStore(t), controller)

	rec := doRequest(t, handler, http.MethodPost, "/api/signals", map[string]string{"type": "call_started"})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(controller.signals) != 1 || controller.signals[0] != session.SignalCallStarted {
		t.Fatalf("unexpected signals %v", controller.signals)
	}

	if rec := doRequest(t, handler, http.MethodPost, "/api/signals", map[string]string{"type": "reboot"}); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown signal, got %d", rec.Code)
	}
}

func TestAPIStatus(t *testing.T) {
	controller := &fakeController{state: "paused", activeID: 3, reason: storage.PauseReasonCall}
	handler := Handler(NewHub(), newAPIStore(t), controller)

	rec := doRequest(t, handler, http.MethodGet, "/api/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		State       string `json:"state"`
		RecordingID int64  `json:"recording_id"`
		PauseReason string `json:"pause_reason"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.State != "paused" || resp.RecordingID != 3 || resp.PauseReason != storage.PauseReasonCall {
		t.Fatalf("unexpected status %+v", resp)
	}
}

func TestAPIGetRecordingWithChunks(t *testing.T) {
	store := newAPIStore(t)
	handler := Handler(NewHub(), store, &fakeController{})

	id, err := store.CreateRecording("api test", time.Now().UTC())
	if err != nil {
		t.Fatalf("CreateRecording failed: %v", err)
	}
	if _, err := store.InsertChunk(storage.AudioChunk{RecordingID: id, ChunkIndex: 0, FilePath: "/tmp/x.wav"}); err != nil {
		t.Fatalf("InsertChunk failed: %v", err)
	}

	rec := doRequest(t, handler, http.MethodGet, fmt.Sprintf("/api/recordings/%d", id), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		Recording storage.Recording    `json:"recording"`
		Chunks    []storage.AudioChunk `json:"chunks"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Recording.ID != id || len(resp.Chunks) != 1 {
		t.Fatalf("unexpected response %+v", resp)
	}

	if rec := doRequest(t, handler, http.MethodGet, "/api/recordings/999", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if rec := doRequest(t, handler, http.MethodGet, "/api/recordings/abc", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestAPIChunkAudio(t *testing.T) {
	store := newAPIStore(t)
	handler := Handler(NewHub(), store, &fakeController{})

	audioPath := filepath.Join(t.TempDir(), "chunk_0.wav")
	if err := os.WriteFile(audioPath, []byte("RIFF fake wav"), 0o644); err != nil {
		t.Fatalf("write audio file: %v", err)
	}

	id, err := store.CreateRecording("audio test", time.Now().UTC())
	if err != nil {
		t.Fatalf("CreateRecording failed: %v", err)
	}
	if _, err := store.InsertChunk(storage.AudioChunk{RecordingID: id, ChunkIndex: 0, FilePath: audioPath}); err != nil {
		t.Fatalf("InsertChunk failed: %v", err)
	}

	rec := doRequest(t, handler, http.MethodGet, fmt.Sprintf("/api/recordings/%d/chunks/0/audio", id), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "audio/wav" {
		t.Fatalf("expected audio/wav, got %q", ct)
	}
	if rec.Body.String() != "RIFF fake wav" {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}

	if rec := doRequest(t, handler, http.MethodGet, fmt.Sprintf("/api/recordings/%d/chunks/5/audio", id), nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown chunk, got %d", rec.Code)
	}
}

func TestAPIDeleteRecording(t *testing.T) {
	store := newAPIStore(t)
	controller := &fakeController{}
	handler := Handler(NewHub(), store, controller)

	id, err := store.CreateRecording("doomed", time.Now().UTC())
	if err != nil {
		t.Fatalf("CreateRecording failed: %v", err)
	}

	// Deleting the active recording is refused.
	controller.activeID = id
	if rec := doRequest(t, handler, http.MethodDelete, fmt.Sprintf("/api/recordings/%d", id), nil); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for active recording, got %d", rec.Code)
	}

	controller.activeID = 0
	if rec := doRequest(t, handler, http.MethodDelete, fmt.Sprintf("/api/recordings/%d", id), nil); rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if rec := doRequest(t, handler, http.MethodDelete, fmt.Sprintf("/api/recordings/%d", id), nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %d", rec.Code)
	}
}
