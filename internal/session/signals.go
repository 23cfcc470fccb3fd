package session

import (
	"fmt"

	"github.com/talnote/talnote/internal/storage"
)

// Signal is an external interruption event delivered to the recorder.
type Signal string

const (
	SignalCallStarted Signal = "call_started"
	SignalCallEnded   Signal = "call_ended"
	SignalFocusLost   Signal = "focus_lost"
	SignalFocusGained Signal = "focus_gained"
	SignalPause       Signal = "pause"
	SignalResume      Signal = "resume"
)

// ParseSignal validates a signal received over the wire.
func ParseSignal(s string) (Signal, error) {
	switch sig := Signal(s); sig {
	case SignalCallStarted, SignalCallEnded, SignalFocusLost, SignalFocusGained, SignalPause, SignalResume:
		return sig, nil
	default:
		return "", fmt.Errorf("unknown signal %q", s)
	}
}

// Signal applies an interruption event. Pause signals are ignored unless a
// recording is active; resume signals are ignored unless the stored pause
// reason matches the signal's counterpart. A call interruption is never
// cleared by an audio focus event, and vice versa.
func (r *Recorder) Signal(sig Signal) error {
	switch sig {
	case SignalCallStarted:
		return r.pauseIfRecording(storage.PauseReasonCall)
	case SignalCallEnded:
		return r.resumeIfPausedFor(storage.PauseReasonCall)
	case SignalFocusLost:
		return r.pauseIfRecording(storage.PauseReasonAudioFocus)
	case SignalFocusGained:
		return r.resumeIfPausedFor(storage.PauseReasonAudioFocus)
	case SignalPause:
		return r.pauseIfRecording(storage.PauseReasonManual)
	case SignalResume:
		return r.resumeIfPausedFor(storage.PauseReasonManual)
	default:
		return fmt.Errorf("unknown signal %q", sig)
	}
}
