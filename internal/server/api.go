package server

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/talnote/talnote/internal/audio"
	"github.com/talnote/talnote/internal/session"
	"github.com/talnote/talnote/internal/storage"
)

type RecordingStore interface {
	ListRecordings() ([]storage.Recording, error)
	GetRecording(id int64) (storage.Recording, error)
	ChunksByRecording(recordingID int64) ([]storage.AudioChunk, error)
	DeleteRecording(id int64) error
}

// Controller is the live recording surface, implemented by session.Recorder.
type Controller interface {
	Start(title string) (int64, error)
	Stop() error
	Signal(sig session.Signal) error
	State() (state string, recordingID int64, pauseReason string)
}

func registerAPIRoutes(mux *http.ServeMux, store RecordingStore, controller Controller) {
	mux.HandleFunc("POST /api/recordings", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Title string `json:"title"`
		}
		if r.Body != nil {
			// An empty body means an untitled recording.
			_ = json.NewDecoder(r.Body).Decode(&req)
		}

		id, err := controller.Start(strings.TrimSpace(req.Title))
		if err != nil {
			writeJSONError(w, startErrorStatus(err), fmt.Sprintf("start recording: %v", err))
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"id": id})
	})

	mux.HandleFunc("POST /api/recordings/{id}/stop", func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}

		_, activeID, _ := controller.State()
		if activeID != id {
			writeJSONError(w, http.StatusConflict, fmt.Sprintf("recording %d is not active", id))
			return
		}

		if err := controller.Stop(); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, session.ErrNoActiveRecording) {
				status = http.StatusConflict
			}
			writeJSONError(w, status, fmt.Sprintf("stop recording: %v", err))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("POST /api/signals", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Type string `json:"type"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		sig, err := session.ParseSignal(req.Type)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}

		if err := controller.Signal(sig); err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("apply signal: %v", err))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, r *http.Request) {
		state, recordingID, pauseReason := controller.State()
		writeJSON(w, http.StatusOK, map[string]any{
			"state":        state,
			"recording_id": recordingID,
			"pause_reason": pauseReason,
		})
	})

	mux.HandleFunc("GET /api/recordings", func(w http.ResponseWriter, r *http.Request) {
		recordings, err := store.ListRecordings()
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("list recordings: %v", err))
			return
		}
		if recordings == nil {
			recordings = []storage.Recording{}
		}
		writeJSON(w, http.StatusOK, recordings)
	})

	mux.HandleFunc("GET /api/recordings/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}

		rec, err := store.GetRecording(id)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, sql.ErrNoRows) {
				status = http.StatusNotFound
			}
			writeJSONError(w, status, fmt.Sprintf("get recording: %v", err))
			return
		}

		chunks, err := store.ChunksByRecording(id)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("get chunks: %v", err))
			return
		}
		if chunks == nil {
			chunks = []storage.AudioChunk{}
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"recording": rec,
			"chunks":    chunks,
		})
	})

	mux.HandleFunc("GET /api/recordings/{id}/chunks/{index}/audio", func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		index, err := strconv.Atoi(r.PathValue("index"))
		if err != nil || index < 0 {
			writeJSONError(w, http.StatusBadRequest, "invalid chunk index")
			return
		}

		chunks, err := store.ChunksByRecording(id)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("get chunks: %v", err))
			return
		}

		var path string
		for _, chunk := range chunks {
			if chunk.ChunkIndex == index {
				path = chunk.FilePath
				break
			}
		}
		if path == "" {
			writeJSONError(w, http.StatusNotFound, "chunk not found")
			return
		}

		cleanPath := filepath.Clean(path)
		if cleanPath == "." || strings.Contains(cleanPath, "..") {
			writeJSONError(w, http.StatusForbidden, "invalid audio path")
			return
		}

		f, err := os.Open(cleanPath)
		if err != nil {
			writeJSONError(w, http.StatusNotFound, "audio file not found")
			return
		}
		defer func() { _ = f.Close() }()

		info, err := f.Stat()
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("stat audio: %v", err))
			return
		}

		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Content-Type", "audio/wav")
		http.ServeContent(w, r, filepath.Base(cleanPath), info.ModTime(), f)
	})

	mux.HandleFunc("DELETE /api/recordings/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}

		if _, activeID, _ := controller.State(); activeID == id {
			writeJSONError(w, http.StatusConflict, "recording is active")
			return
		}

		if err := store.DeleteRecording(id); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, sql.ErrNoRows) {
				status = http.StatusNotFound
			}
			writeJSONError(w, status, fmt.Sprintf("delete recording: %v", err))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSONError(w, http.StatusBadRequest, "invalid recording id")
		return 0, false
	}
	return id, true
}

func startErrorStatus(err error) int {
	switch {
	case errors.Is(err, session.ErrAlreadyRecording):
		return http.StatusConflict
	case errors.Is(err, audio.ErrLowStorage):
		return http.StatusInsufficientStorage
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
