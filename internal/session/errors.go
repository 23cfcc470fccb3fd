package session

import "errors"

var (
	// ErrAlreadyRecording is returned by Start while a recording is active.
	ErrAlreadyRecording = errors.New("a recording is already active")

	// ErrNoActiveRecording is returned by operations that need an active
	// recording when there is none.
	ErrNoActiveRecording = errors.New("no active recording")

	// ErrNotPaused is returned by Resume when the recording is not paused.
	ErrNotPaused = errors.New("recording is not paused")

	// ErrReasonMismatch is returned by Resume when the given reason does
	// not match the reason the recording was paused with.
	ErrReasonMismatch = errors.New("resume reason does not match pause reason")
)
