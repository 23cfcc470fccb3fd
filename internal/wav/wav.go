// Package wav writes and inspects canonical RIFF/WAVE files containing
// mono 16-bit little-endian PCM, the container every audio chunk is
// persisted in.
package wav

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

const (
	// HeaderSize is the fixed size of the canonical WAV header.
	HeaderSize = 44

	channels      = 1
	bitsPerSample = 16
)

type header struct {
	ChunkID       [4]byte
	ChunkSize     uint32
	Format        [4]byte
	Subchunk1ID   [4]byte
	Subchunk1Size uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte
	Subchunk2Size uint32
}

// Info describes a decoded WAV header.
type Info struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
	DataSize      int
}

// Encode writes a complete WAV file (44-byte header plus samples) to w.
func Encode(w io.Writer, samples []int16, sampleRate int) error {
	if sampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %d", sampleRate)
	}

	dataSize := uint32(len(samples) * 2)
	h := header{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   channels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * channels * bitsPerSample / 8,
		BlockAlign:    channels * bitsPerSample / 8,
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	if err := binary.Write(w, binary.LittleEndian, h); err != nil {
		return fmt.Errorf("write wav header: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, samples); err != nil {
		return fmt.Errorf("write wav samples: %w", err)
	}
	return nil
}

// WriteFile encodes samples into a new WAV file at path and returns the
// resulting file size in bytes.
func WriteFile(path string, samples []int16, sampleRate int) (int64, error) {
	var buf bytes.Buffer
	buf.Grow(HeaderSize + len(samples)*2)
	if err := Encode(&buf, samples, sampleRate); err != nil {
		return 0, err
	}

	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return 0, fmt.Errorf("write wav file %s: %w", path, err)
	}
	return int64(buf.Len()), nil
}

// ReadInfo decodes the 44-byte header from r.
func ReadInfo(r io.Reader) (Info, error) {
	var h header
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return Info{}, fmt.Errorf("read wav header: %w", err)
	}

	if string(h.ChunkID[:]) != "RIFF" || string(h.Format[:]) != "WAVE" {
		return Info{}, fmt.Errorf("not a RIFF/WAVE file")
	}
	if h.AudioFormat != 1 {
		return Info{}, fmt.Errorf("unsupported audio format %d, want PCM", h.AudioFormat)
	}

	return Info{
		SampleRate:    int(h.SampleRate),
		Channels:      int(h.NumChannels),
		BitsPerSample: int(h.BitsPerSample),
		DataSize:      int(h.Subchunk2Size),
	}, nil
}

// ReadFileInfo decodes the header of the WAV file at path.
func ReadFileInfo(path string) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, fmt.Errorf("open wav file %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	return ReadInfo(f)
}
