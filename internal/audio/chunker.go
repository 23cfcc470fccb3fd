package audio

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"

	"github.com/talnote/talnote/internal/wav"
)

const (
	DefaultSampleRate       = 44100
	DefaultChunkSeconds     = 30
	DefaultOverlapSeconds   = 2
	DefaultStorageFloor     = 100 * 1024 * 1024
	DefaultSilenceThreshold = 500
	DefaultSilenceSeconds   = 10
)

// ErrLowStorage is returned by Run when free disk space drops below the
// configured floor. Any buffered audio has already been flushed.
var ErrLowStorage = errors.New("free storage below floor")

// Chunk describes one WAV file written by the chunker.
type Chunk struct {
	Index      int
	Path       string
	StartMS    int64
	EndMS      int64
	DurationMS int64
	FileSize   int64
}

// Sink receives each chunk as soon as its file is durable on disk.
type Sink interface {
	ChunkReady(chunk Chunk) error
}

type Config struct {
	// AudioDir is where chunk WAV files are written.
	AudioDir string

	SampleRate     int
	ChunkSeconds   int
	OverlapSeconds int

	// StorageFloorBytes aborts capture when free space on AudioDir's
	// filesystem falls below it.
	StorageFloorBytes uint64

	// SilenceThreshold is the mean absolute sample amplitude below which
	// a second of audio counts as silent. SilenceSeconds consecutive
	// silent seconds raise a single warning.
	SilenceThreshold int
	SilenceSeconds   int

	// Warn receives non-fatal condition reports (prolonged silence).
	// Optional.
	Warn func(kind, message string)

	// FreeSpace probes available bytes on the filesystem holding dir.
	// Defaults to a statfs call; tests substitute their own.
	FreeSpace func(dir string) (uint64, error)

	Logger *slog.Logger
}

// WithDefaults returns a copy of the config with unset fields filled in.
func (c Config) WithDefaults() Config {
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.AudioDir == "" {
		c.AudioDir = filepath.Join("data", "audio")
	}
	if c.SampleRate <= 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.ChunkSeconds <= 0 {
		c.ChunkSeconds = DefaultChunkSeconds
	}
	if c.OverlapSeconds < 0 || c.OverlapSeconds >= c.ChunkSeconds {
		c.OverlapSeconds = DefaultOverlapSeconds
	}
	if c.StorageFloorBytes == 0 {
		c.StorageFloorBytes = DefaultStorageFloor
	}
	if c.SilenceThreshold <= 0 {
		c.SilenceThreshold = DefaultSilenceThreshold
	}
	if c.SilenceSeconds <= 0 {
		c.SilenceSeconds = DefaultSilenceSeconds
	}
	if c.FreeSpace == nil {
		c.FreeSpace = FreeSpace
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Chunker accumulates PCM16 samples and cuts fixed-duration chunks with a
// configurable overlap carried into the next chunk. State survives across
// Run calls, so pause and resume legs feed one continuous chunk sequence.
//
// Chunker is not safe for concurrent use; the capture loop owns it.
type Chunker struct {
	cfg         Config
	recordingID int64
	sink        Sink

	samplesPerChunk int
	overlapSamples  int

	buf         []int16
	nextIndex   int
	startSample int64
	sinceCut    int
	captured    int64

	secSamples int
	secSum     int64
	silentSecs int
	warned     bool
}

func NewChunker(cfg Config, recordingID int64, sink Sink) (*Chunker, error) {
	cfg.applyDefaults()
	if sink == nil {
		return nil, errors.New("chunk sink is required")
	}
	if err := os.MkdirAll(cfg.AudioDir, 0o755); err != nil {
		return nil, fmt.Errorf("create audio directory: %w", err)
	}

	return &Chunker{
		cfg:             cfg,
		recordingID:     recordingID,
		sink:            sink,
		samplesPerChunk: cfg.SampleRate * cfg.ChunkSeconds,
		overlapSamples:  cfg.SampleRate * cfg.OverlapSeconds,
	}, nil
}

// Run consumes the source until it is closed, the sink fails, or storage
// drops below the floor. A closed source is a clean return; buffered audio
// stays in place for the next leg or for Flush.
func (c *Chunker) Run(source Source) error {
	for {
		samples, err := source.Read()
		if err != nil {
			if errors.Is(err, ErrSourceClosed) {
				return nil
			}
			return fmt.Errorf("read audio source: %w", err)
		}
		if len(samples) == 0 {
			continue
		}

		if err := c.ingest(samples); err != nil {
			return err
		}
	}
}

func (c *Chunker) ingest(samples []int16) error {
	c.buf = append(c.buf, samples...)
	c.sinceCut += len(samples)
	c.captured += int64(len(samples))
	c.trackSilence(samples)

	for len(c.buf) >= c.samplesPerChunk {
		if err := c.cut(c.buf[:c.samplesPerChunk]); err != nil {
			return err
		}
		// Retain the tail so the next chunk re-hears the boundary.
		retained := c.buf[c.samplesPerChunk-c.overlapSamples:]
		c.buf = append(c.buf[:0], retained...)
		c.sinceCut = len(c.buf) - c.overlapSamples
		if c.sinceCut < 0 {
			c.sinceCut = 0
		}
	}

	if c.secSamples >= c.cfg.SampleRate {
		c.checkSecond()
		if err := c.checkStorage(); err != nil {
			return err
		}
	}
	return nil
}

// Flush writes any samples received since the last cut as a final, possibly
// short, chunk. A buffer holding only retained overlap is discarded.
func (c *Chunker) Flush() error {
	if c.sinceCut <= 0 || len(c.buf) == 0 {
		c.buf = nil
		c.sinceCut = 0
		return nil
	}

	if err := c.cut(c.buf); err != nil {
		return err
	}
	c.startSample += int64(len(c.buf) - c.overlapSamples)
	c.buf = nil
	c.sinceCut = 0
	return nil
}

// Chunks returns how many chunks have been written so far.
func (c *Chunker) Chunks() int {
	return c.nextIndex
}

// Captured returns the total duration of audio ingested across all legs.
// Paused gaps contribute nothing.
func (c *Chunker) Captured() time.Duration {
	return time.Duration(c.captured) * time.Second / time.Duration(c.cfg.SampleRate)
}

func (c *Chunker) cut(samples []int16) error {
	path := filepath.Join(c.cfg.AudioDir, fmt.Sprintf("recording_%d_chunk_%04d.wav", c.recordingID, c.nextIndex))

	size, err := wav.WriteFile(path, samples, c.cfg.SampleRate)
	if err != nil {
		return fmt.Errorf("write chunk %d: %w", c.nextIndex, err)
	}

	rate := int64(c.cfg.SampleRate)
	startMS := c.startSample * 1000 / rate
	endMS := (c.startSample + int64(len(samples))) * 1000 / rate

	chunk := Chunk{
		Index:      c.nextIndex,
		Path:       path,
		StartMS:    startMS,
		EndMS:      endMS,
		DurationMS: endMS - startMS,
		FileSize:   size,
	}

	if err := c.sink.ChunkReady(chunk); err != nil {
		return fmt.Errorf("hand off chunk %d: %w", c.nextIndex, err)
	}

	c.cfg.Logger.Debug("chunk written",
		"recording_id", c.recordingID,
		"index", chunk.Index,
		"start_ms", chunk.StartMS,
		"end_ms", chunk.EndMS,
		"bytes", chunk.FileSize,
	)

	c.nextIndex++
	if len(samples) >= c.samplesPerChunk {
		c.startSample += int64(c.samplesPerChunk - c.overlapSamples)
	}
	return nil
}

func (c *Chunker) trackSilence(samples []int16) {
	for _, s := range samples {
		if s < 0 {
			c.secSum -= int64(s)
		} else {
			c.secSum += int64(s)
		}
	}
	c.secSamples += len(samples)
}

// checkSecond folds a completed second of audio into the silence tracker.
func (c *Chunker) checkSecond() {
	mean := c.secSum / int64(c.secSamples)
	c.secSum = 0
	c.secSamples = 0

	if mean >= int64(c.cfg.SilenceThreshold) {
		c.silentSecs = 0
		c.warned = false
		return
	}

	c.silentSecs++
	if c.silentSecs >= c.cfg.SilenceSeconds && !c.warned {
		c.warned = true
		if c.cfg.Warn != nil {
			c.cfg.Warn("silence", fmt.Sprintf("no audio above threshold for %d seconds", c.silentSecs))
		}
	}
}

func (c *Chunker) checkStorage() error {
	free, err := c.cfg.FreeSpace(c.cfg.AudioDir)
	if err != nil {
		c.cfg.Logger.Warn("storage probe failed", "error", err)
		return nil
	}
	if free >= c.cfg.StorageFloorBytes {
		return nil
	}

	c.cfg.Logger.Warn("storage floor breached", "free_bytes", free, "floor_bytes", c.cfg.StorageFloorBytes)
	if err := c.Flush(); err != nil {
		return err
	}
	return ErrLowStorage
}

// FreeSpace reports available bytes on the filesystem holding dir.
func FreeSpace(dir string) (uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(dir, &stat); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", dir, err)
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}
