// Package audio captures PCM16 microphone audio and splits it into
// fixed-duration, overlapping WAV chunks on disk.
package audio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// ErrSourceClosed is returned by Read once the source has been closed.
// A capture loop treats it as a clean end of input.
var ErrSourceClosed = errors.New("audio source closed")

// Source yields blocks of mono PCM16 samples. Close unblocks any pending
// Read, which then returns ErrSourceClosed.
type Source interface {
	Read() ([]int16, error)
	Close() error
}

// Mic wraps a PortAudio capture stream as a Source.
type Mic struct {
	stream *portaudio.Stream
	buf    []int16

	mu     sync.Mutex
	closed bool
}

// NewMic opens and starts a PortAudio capture stream with the given sample
// rate and buffer size (in frames). The caller owns Close.
func NewMic(sampleRate, framesPerBuffer int) (*Mic, error) {
	buf := make([]int16, framesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(sampleRate), framesPerBuffer, buf)
	if err != nil {
		return nil, fmt.Errorf("open capture stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("start capture stream: %w", err)
	}
	return &Mic{stream: stream, buf: buf}, nil
}

func (m *Mic) Read() ([]int16, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrSourceClosed
	}
	m.mu.Unlock()

	if err := m.stream.Read(); err != nil {
		m.mu.Lock()
		closed := m.closed
		m.mu.Unlock()
		if closed {
			return nil, ErrSourceClosed
		}
		return nil, fmt.Errorf("read capture stream: %w", err)
	}

	out := make([]int16, len(m.buf))
	copy(out, m.buf)
	return out, nil
}

// Close aborts the stream so a blocked Read returns promptly.
func (m *Mic) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	if err := m.stream.Abort(); err != nil {
		_ = m.stream.Close()
		return fmt.Errorf("abort capture stream: %w", err)
	}
	if err := m.stream.Close(); err != nil {
		return fmt.Errorf("close capture stream: %w", err)
	}
	return nil
}
