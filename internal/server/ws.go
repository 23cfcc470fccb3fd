package server

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func registerWSRoute(mux *http.ServeMux, hub *Hub, controller Controller) {
	mux.HandleFunc("GET /ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("ws upgrade error: %v", err)
			return
		}
		defer func() { _ = conn.Close() }()

		// Greet, then replay the recorder state so a client connecting
		// mid-recording renders the right status immediately.
		if err := writeEvent(conn, ConnectionEvent{
			Event:     newEvent("connection", time.Now().UTC()),
			Connected: true,
		}); err != nil {
			return
		}

		state, recordingID, pauseReason := controller.State()
		if err := writeEvent(conn, StateChangedEvent{
			Event:       newEvent("state_changed", time.Now().UTC()),
			RecordingID: recordingID,
			State:       state,
			Reason:      pauseReason,
			Label:       stateLabel(state, pauseReason),
		}); err != nil {
			return
		}

		ch := hub.Subscribe()
		defer hub.Unsubscribe(ch)

		for msg := range ch {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	})
}

func writeEvent(conn *websocket.Conn, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, payload)
}
