package session

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/talnote/talnote/internal/audio"
	"github.com/talnote/talnote/internal/storage"
)

type fakeStore struct {
	mu          sync.Mutex
	nextID      int64
	titles      map[int64]string
	status      map[int64]string
	pauseReason map[int64]string
	errMsg      map[int64]string
	finalized   map[int64]int
	chunks      []storage.AudioChunk
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		titles:      make(map[int64]string),
		status:      make(map[int64]string),
		pauseReason: make(map[int64]string),
		errMsg:      make(map[int64]string),
		finalized:   make(map[int64]int),
	}
}

func (s *fakeStore) CreateRecording(title string, startedAt time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.titles[s.nextID] = title
	s.status[s.nextID] = storage.StatusRecording
	return s.nextID, nil
}

func (s *fakeStore) MarkPaused(id int64, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status[id] = storage.StatusPaused
	s.pauseReason[id] = reason
	return nil
}

func (s *fakeStore) MarkRecording(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status[id] = storage.StatusRecording
	s.pauseReason[id] = ""
	return nil
}

func (s *fakeStore) MarkError(id int64, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status[id] = storage.StatusError
	s.errMsg[id] = message
	return nil
}

func (s *fakeStore) FinalizeRecording(id int64, endedAt time.Time, duration time.Duration, totalChunks int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status[id] = storage.StatusStopped
	s.finalized[id] = totalChunks
	return nil
}

func (s *fakeStore) InsertChunk(chunk storage.AudioChunk) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = append(s.chunks, chunk)
	return int64(len(s.chunks)), nil
}

func (s *fakeStore) statusOf(id int64) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status[id]
}

func (s *fakeStore) chunkCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chunks)
}

type fakeDispatcher struct {
	mu       sync.Mutex
	enqueued []int64
}

func (d *fakeDispatcher) EnqueueTranscription(recordingID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enqueued = append(d.enqueued, recordingID)
}

type fakeHub struct {
	mu     sync.Mutex
	events []string
}

func (h *fakeHub) record(event string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
}

func (h *fakeHub) BroadcastRecordingStarted(recordingID int64, title string) {
	h.record("started")
}

func (h *fakeHub) BroadcastRecordingState(recordingID int64, state, reason string) {
	h.record("state:" + state)
}

func (h *fakeHub) BroadcastChunkWritten(recordingID int64, index int, startMS, endMS int64) {
	h.record(fmt.Sprintf("chunk:%d", index))
}

func (h *fakeHub) BroadcastWarning(recordingID int64, kind, message string) {
	h.record("warning:" + kind)
}

// blockSource serves its queued blocks, then blocks until closed.
type blockSource struct {
	mu     sync.Mutex
	blocks [][]int16
	closed chan struct{}
	once   sync.Once
}

func newBlockSource(blocks ...[]int16) *blockSource {
	return &blockSource{blocks: blocks, closed: make(chan struct{})}
}

func (s *blockSource) Read() ([]int16, error) {
	s.mu.Lock()
	if len(s.blocks) > 0 {
		block := s.blocks[0]
		s.blocks = s.blocks[1:]
		s.mu.Unlock()
		return block, nil
	}
	s.mu.Unlock()

	<-s.closed
	return nil, audio.ErrSourceClosed
}

func (s *blockSource) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func seconds(n int, amplitude int16) [][]int16 {
	blocks := make([][]int16, 0, n)
	for i := 0; i < n; i++ {
		block := make([]int16, 100)
		for j := range block {
			block[j] = amplitude
		}
		blocks = append(blocks, block)
	}
	return blocks
}

type recorderFixture struct {
	recorder   *Recorder
	store      *fakeStore
	dispatcher *fakeDispatcher
	hub        *fakeHub
	opened     *int
}

func newRecorderFixture(t *testing.T, freeSpace func(string) (uint64, error), sources ...*blockSource) *recorderFixture {
	t.Helper()

	if freeSpace == nil {
		freeSpace = func(string) (uint64, error) { return 1 << 40, nil }
	}

	store := newFakeStore()
	dispatcher := &fakeDispatcher{}
	hub := &fakeHub{}
	opened := 0

	opener := func(sampleRate int) (audio.Source, error) {
		if opened >= len(sources) {
			return nil, errors.New("no more sources")
		}
		src := sources[opened]
		opened++
		return src, nil
	}

	recorder := NewRecorder(Config{
		Audio: audio.Config{
			AudioDir:       t.TempDir(),
			SampleRate:     100,
			ChunkSeconds:   2,
			OverlapSeconds: 1,
			FreeSpace:      freeSpace,
		},
		Logger: slog.New(slog.DiscardHandler),
	}, store, dispatcher, hub, opener)

	return &recorderFixture{recorder: recorder, store: store, dispatcher: dispatcher, hub: hub, opened: &opened}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestRecorderStartStop(t *testing.T) {
	source := newBlockSource(seconds(3, 1000)...)
	f := newRecorderFixture(t, nil, source)

	id, err := f.recorder.Start("Team sync")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if id == 0 {
		t.Fatal("expected recording id")
	}

	state, activeID, _ := f.recorder.State()
	if state != stateRecording || activeID != id {
		t.Fatalf("expected active recording %d, got %s/%d", id, state, activeID)
	}

	// One full chunk cuts once 2s of the 3s queue is ingested.
	waitFor(t, "first chunk", func() bool { return f.store.chunkCount() >= 1 })

	if err := f.recorder.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if got := f.store.statusOf(id); got != storage.StatusStopped {
		t.Fatalf("expected stopped, got %q", got)
	}
	// Residual second flushes as a short final chunk.
	if got := f.store.finalized[id]; got != 2 {
		t.Fatalf("expected 2 total chunks, got %d", got)
	}
	if len(f.dispatcher.enqueued) != 1 || f.dispatcher.enqueued[0] != id {
		t.Fatalf("expected transcription enqueued for %d, got %v", id, f.dispatcher.enqueued)
	}

	for i, chunk := range f.store.chunks {
		if chunk.RecordingID != id || chunk.ChunkIndex != i {
			t.Fatalf("unexpected chunk row: %+v", chunk)
		}
		if chunk.Status != storage.ChunkPending {
			t.Fatalf("expected pending chunk, got %q", chunk.Status)
		}
	}

	if err := f.recorder.Stop(); !errors.Is(err, ErrNoActiveRecording) {
		t.Fatalf("expected ErrNoActiveRecording, got %v", err)
	}
}

func TestRecorderDefaultTitle(t *testing.T) {
	f := newRecorderFixture(t, nil, newBlockSource())

	id, err := f.recorder.Start("")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !strings.HasPrefix(f.store.titles[id], "Recording ") {
		t.Fatalf("expected generated title, got %q", f.store.titles[id])
	}

	if err := f.recorder.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}

func TestRecorderRejectsConcurrentStart(t *testing.T) {
	f := newRecorderFixture(t, nil, newBlockSource(), newBlockSource())

	if _, err := f.recorder.Start("first"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if _, err := f.recorder.Start("second"); !errors.Is(err, ErrAlreadyRecording) {
		t.Fatalf("expected ErrAlreadyRecording, got %v", err)
	}

	if err := f.recorder.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}

func TestRecorderPauseResumeExactReason(t *testing.T) {
	f := newRecorderFixture(t, nil, newBlockSource(seconds(1, 1000)...), newBlockSource(seconds(1, 1000)...))

	id, err := f.recorder.Start("Interrupted")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := f.recorder.Signal(SignalCallStarted); err != nil {
		t.Fatalf("call_started signal failed: %v", err)
	}
	state, _, reason := f.recorder.State()
	if state != statePaused || reason != storage.PauseReasonCall {
		t.Fatalf("expected paused/call, got %s/%s", state, reason)
	}
	if f.store.statusOf(id) != storage.StatusPaused {
		t.Fatalf("expected paused status, got %q", f.store.statusOf(id))
	}

	// A focus event must not clear a call interruption.
	if err := f.recorder.Signal(SignalFocusGained); err != nil {
		t.Fatalf("focus_gained signal failed: %v", err)
	}
	state, _, reason = f.recorder.State()
	if state != statePaused || reason != storage.PauseReasonCall {
		t.Fatalf("expected call pause to survive focus_gained, got %s/%s", state, reason)
	}

	if err := f.recorder.Signal(SignalCallEnded); err != nil {
		t.Fatalf("call_ended signal failed: %v", err)
	}
	state, _, _ = f.recorder.State()
	if state != stateRecording {
		t.Fatalf("expected recording after call_ended, got %s", state)
	}
	if *f.opened != 2 {
		t.Fatalf("expected a fresh source on resume, opened %d", *f.opened)
	}

	if err := f.recorder.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	// One second per leg, total 2s, chunked at 2s.
	if got := f.store.finalized[id]; got != 1 {
		t.Fatalf("expected 1 chunk spanning the pause, got %d", got)
	}
}

func TestRecorderResumeReasonMismatch(t *testing.T) {
	f := newRecorderFixture(t, nil, newBlockSource())

	if _, err := f.recorder.Start("Manual"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := f.recorder.Pause(storage.PauseReasonManual); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}

	if err := f.recorder.Resume(storage.PauseReasonCall); !errors.Is(err, ErrReasonMismatch) {
		t.Fatalf("expected ErrReasonMismatch, got %v", err)
	}

	if err := f.recorder.Stop(); err != nil {
		t.Fatalf("Stop from paused failed: %v", err)
	}
}

func TestRecorderStartRefusedOnLowStorage(t *testing.T) {
	f := newRecorderFixture(t, func(string) (uint64, error) { return 1 << 10, nil })

	if _, err := f.recorder.Start("No space"); !errors.Is(err, audio.ErrLowStorage) {
		t.Fatalf("expected ErrLowStorage, got %v", err)
	}
	if f.store.nextID != 0 {
		t.Fatal("expected no recording row when start is refused")
	}
}

func TestRecorderStorageFloorMidCaptureErrors(t *testing.T) {
	var probes int
	var mu sync.Mutex
	freeSpace := func(string) (uint64, error) {
		mu.Lock()
		defer mu.Unlock()
		probes++
		if probes == 1 {
			return 1 << 40, nil // the start probe passes
		}
		return 1 << 10, nil
	}

	f := newRecorderFixture(t, freeSpace, newBlockSource(seconds(1, 1000)...))

	id, err := f.recorder.Start("Doomed")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitFor(t, "error state", func() bool {
		return f.store.statusOf(id) == storage.StatusError
	})

	// The buffered second was flushed before capture aborted.
	if f.store.chunkCount() != 1 {
		t.Fatalf("expected flushed chunk, got %d", f.store.chunkCount())
	}

	state, _, _ := f.recorder.State()
	if state != stateIdle {
		t.Fatalf("expected recorder idle after failure, got %s", state)
	}
}
