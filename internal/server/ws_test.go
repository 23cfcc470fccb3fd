package server

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn, out any) {
	t.Helper()

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read message: %v", err)
	}
	if err := json.Unmarshal(msg, out); err != nil {
		t.Fatalf("unmarshal %q: %v", msg, err)
	}
}

func TestWSConnectionEvent(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(Handler(hub, newAPIStore(t), &fakeController{state: "idle"}))
	defer srv.Close()

	conn := dialWS(t, srv)

	var event ConnectionEvent
	readEvent(t, conn, &event)
	if event.Type != "connection" || !event.Connected {
		t.Fatalf("unexpected connection event %+v", event)
	}
	if event.Version != EventVersion {
		t.Fatalf("expected version %d, got %d", EventVersion, event.Version)
	}
}

func TestWSReplaysRecorderStateOnConnect(t *testing.T) {
	hub := NewHub()
	controller := &fakeController{state: "paused", activeID: 12, reason: "audio_focus"}
	srv := httptest.NewServer(Handler(hub, newAPIStore(t), controller))
	defer srv.Close()

	conn := dialWS(t, srv)

	var connected ConnectionEvent
	readEvent(t, conn, &connected)

	var snapshot StateChangedEvent
	readEvent(t, conn, &snapshot)
	if snapshot.Type != "state_changed" || snapshot.State != "paused" || snapshot.RecordingID != 12 {
		t.Fatalf("unexpected snapshot %+v", snapshot)
	}
	if snapshot.Reason != "audio_focus" {
		t.Fatalf("unexpected reason %q", snapshot.Reason)
	}
	if snapshot.Label != "Paused (audio focus)" {
		t.Fatalf("unexpected label %q", snapshot.Label)
	}
}

func TestWSReceivesBroadcasts(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(Handler(hub, newAPIStore(t), &fakeController{state: "idle"}))
	defer srv.Close()

	conn := dialWS(t, srv)

	var connected ConnectionEvent
	readEvent(t, conn, &connected)
	var snapshot StateChangedEvent
	readEvent(t, conn, &snapshot)

	// The subscriber channel may register slightly after the connection
	// event is written, so retry the broadcast until it lands.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
				hub.BroadcastRecordingStarted(7, "weekly sync")
				time.Sleep(10 * time.Millisecond)
			}
		}
	}()

	var event RecordingStartedEvent
	readEvent(t, conn, &event)

	if event.Type != "recording_started" || event.RecordingID != 7 || event.Title != "weekly sync" {
		t.Fatalf("unexpected event %+v", event)
	}
}
