package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Recording lifecycle states. A recording has exactly one logical owner at
// any time, determined by this status: the capture session while recording
// or paused, the transcription pipeline while transcribing, the summary
// pipeline while generating a summary.
const (
	StatusRecording          = "recording"
	StatusPaused             = "paused"
	StatusStopped            = "stopped"
	StatusTranscribing       = "transcribing"
	StatusTranscriptComplete = "transcription_complete"
	StatusTranscriptFailed   = "transcription_failed"
	StatusGeneratingSummary  = "generating_summary"
	StatusSummaryComplete    = "summary_complete"
	StatusSummaryFailed      = "summary_failed"
	StatusCompleted          = "completed"
	StatusError              = "error"
)

// Chunk transcription states.
const (
	ChunkPending    = "pending"
	ChunkInProgress = "in_progress"
	ChunkCompleted  = "completed"
	ChunkFailed     = "failed"
)

// Pause reasons. Resume signals must match the stored reason exactly.
const (
	PauseReasonCall       = "call"
	PauseReasonAudioFocus = "audio_focus"
	PauseReasonManual     = "manual"
)

type Recording struct {
	ID                int64      `json:"id"`
	Title             string     `json:"title"`
	StartedAt         time.Time  `json:"started_at"`
	EndedAt           *time.Time `json:"ended_at,omitempty"`
	DurationMS        int64      `json:"duration_ms"`
	Status            string     `json:"status"`
	TotalChunks       int        `json:"total_chunks"`
	TranscribedChunks int        `json:"transcribed_chunks"`
	Transcript        string     `json:"transcript"`
	SummaryTitle      string     `json:"summary_title"`
	SummaryBody       string     `json:"summary_body"`
	SummaryActions    string     `json:"summary_action_items"`
	SummaryKeyPoints  string     `json:"summary_key_points"`
	PauseReason       string     `json:"pause_reason"`
	ErrorMessage      string     `json:"error_message"`
}

type AudioChunk struct {
	ID           int64  `json:"id"`
	RecordingID  int64  `json:"recording_id"`
	ChunkIndex   int    `json:"chunk_index"`
	FilePath     string `json:"file_path"`
	StartMS      int64  `json:"start_ms"`
	EndMS        int64  `json:"end_ms"`
	DurationMS   int64  `json:"duration_ms"`
	FileSize     int64  `json:"file_size"`
	Status       string `json:"status"`
	Text         string `json:"text"`
	Retries      int    `json:"retries"`
	ErrorMessage string `json:"error_message"`
}

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if strings.TrimSpace(dbPath) == "" {
		dbPath = filepath.Join("data", "talnote.db")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) init() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS recordings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			title TEXT NOT NULL,
			started_at TEXT NOT NULL,
			ended_at TEXT,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			total_chunks INTEGER NOT NULL DEFAULT 0,
			transcribed_chunks INTEGER NOT NULL DEFAULT 0,
			transcript TEXT NOT NULL DEFAULT '',
			summary_title TEXT NOT NULL DEFAULT '',
			summary_body TEXT NOT NULL DEFAULT '',
			summary_action_items TEXT NOT NULL DEFAULT '',
			summary_key_points TEXT NOT NULL DEFAULT '',
			pause_reason TEXT NOT NULL DEFAULT '',
			error_message TEXT NOT NULL DEFAULT ''
		);
	`); err != nil {
		return fmt.Errorf("create recordings table: %w", err)
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS audio_chunks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			recording_id INTEGER NOT NULL,
			chunk_index INTEGER NOT NULL,
			file_path TEXT NOT NULL,
			start_ms INTEGER NOT NULL,
			end_ms INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL,
			file_size INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'pending',
			text TEXT NOT NULL DEFAULT '',
			retries INTEGER NOT NULL DEFAULT 0,
			error_message TEXT NOT NULL DEFAULT '',
			FOREIGN KEY(recording_id) REFERENCES recordings(id) ON DELETE CASCADE,
			UNIQUE(recording_id, chunk_index)
		);
	`); err != nil {
		return fmt.Errorf("create audio_chunks table: %w", err)
	}

	if _, err := s.db.Exec("CREATE INDEX IF NOT EXISTS idx_recordings_started_at ON recordings(started_at)"); err != nil {
		return fmt.Errorf("create recordings index: %w", err)
	}
	if _, err := s.db.Exec("CREATE INDEX IF NOT EXISTS idx_chunks_recording ON audio_chunks(recording_id, chunk_index)"); err != nil {
		return fmt.Errorf("create audio_chunks index: %w", err)
	}

	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) CreateRecording(title string, startedAt time.Time) (int64, error) {
	if strings.TrimSpace(title) == "" {
		return 0, errors.New("recording title is required")
	}

	res, err := s.db.Exec(
		`INSERT INTO recordings(title, started_at, status) VALUES(?, ?, ?)`,
		title,
		startedAt.UTC().Format(time.RFC3339Nano),
		StatusRecording,
	)
	if err != nil {
		return 0, fmt.Errorf("create recording: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("recording insert id: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) GetRecording(id int64) (Recording, error) {
	row := s.db.QueryRow(recordingColumns+` FROM recordings WHERE id = ?`, id)
	return scanRecording(row)
}

func (s *SQLiteStore) ListRecordings() ([]Recording, error) {
	rows, err := s.db.Query(recordingColumns + ` FROM recordings ORDER BY started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query recordings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	recordings := make([]Recording, 0, 16)
	for rows.Next() {
		rec, err := scanRecording(rows)
		if err != nil {
			return nil, err
		}
		recordings = append(recordings, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recording rows: %w", err)
	}
	return recordings, nil
}

// ListRecordingsByStatus returns recordings whose status is any of the given
// values, oldest first. Startup recovery uses this to find stranded work.
func (s *SQLiteStore) ListRecordingsByStatus(statuses ...string) ([]Recording, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ",")
	args := make([]any, len(statuses))
	for i, st := range statuses {
		args[i] = st
	}

	rows, err := s.db.Query(
		recordingColumns+` FROM recordings WHERE status IN (`+placeholders+`) ORDER BY started_at ASC`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("query recordings by status: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var recordings []Recording
	for rows.Next() {
		rec, err := scanRecording(rows)
		if err != nil {
			return nil, err
		}
		recordings = append(recordings, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recording rows: %w", err)
	}
	return recordings, nil
}

func (s *SQLiteStore) UpdateRecordingStatus(id int64, status string) error {
	return s.execOne(
		`UPDATE recordings SET status = ? WHERE id = ?`,
		"update recording status", status, id,
	)
}

// MarkPaused records the pause and its reason in one atomic update.
func (s *SQLiteStore) MarkPaused(id int64, reason string) error {
	return s.execOne(
		`UPDATE recordings SET status = ?, pause_reason = ? WHERE id = ?`,
		"mark recording paused", StatusPaused, reason, id,
	)
}

// MarkRecording resumes a paused recording, clearing the pause reason.
func (s *SQLiteStore) MarkRecording(id int64) error {
	return s.execOne(
		`UPDATE recordings SET status = ?, pause_reason = '' WHERE id = ?`,
		"mark recording resumed", StatusRecording, id,
	)
}

// MarkError moves a recording into the terminal error state. There is no
// automatic transition out of it.
func (s *SQLiteStore) MarkError(id int64, message string) error {
	return s.execOne(
		`UPDATE recordings SET status = ?, error_message = ? WHERE id = ?`,
		"mark recording errored", StatusError, message, id,
	)
}

// FinalizeRecording fixes the end time, duration, and total chunk count.
// total_chunks never changes after this point.
func (s *SQLiteStore) FinalizeRecording(id int64, endedAt time.Time, duration time.Duration, totalChunks int) error {
	return s.execOne(
		`UPDATE recordings SET ended_at = ?, duration_ms = ?, total_chunks = ?, status = ? WHERE id = ?`,
		"finalize recording",
		endedAt.UTC().Format(time.RFC3339Nano),
		duration.Milliseconds(),
		totalChunks,
		StatusStopped,
		id,
	)
}

func (s *SQLiteStore) UpdateTranscript(id int64, transcript string, transcribedChunks int, status string) error {
	return s.execOne(
		`UPDATE recordings SET transcript = ?, transcribed_chunks = ?, status = ? WHERE id = ?`,
		"update transcript", transcript, transcribedChunks, status, id,
	)
}

// UpdateSummaryFields persists the best-known value of every summary field.
// Called on each streamed partial result so a killed process can observe
// partial progress.
func (s *SQLiteStore) UpdateSummaryFields(id int64, title, body, actionItems, keyPoints, status string) error {
	return s.execOne(
		`UPDATE recordings SET summary_title = ?, summary_body = ?, summary_action_items = ?, summary_key_points = ?, status = ? WHERE id = ?`,
		"update summary fields", title, body, actionItems, keyPoints, status, id,
	)
}

func (s *SQLiteStore) SetRecordingError(id int64, status, message string) error {
	return s.execOne(
		`UPDATE recordings SET status = ?, error_message = ? WHERE id = ?`,
		"set recording error", status, message, id,
	)
}

// DeleteRecording removes the recording, its chunk rows (cascade), and the
// chunk files on disk. Chunk rows are the sole owners of their files.
func (s *SQLiteStore) DeleteRecording(id int64) error {
	chunks, err := s.ChunksByRecording(id)
	if err != nil {
		return err
	}

	res, err := s.db.Exec(`DELETE FROM recordings WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete recording %d: %w", id, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete recording rows affected: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}

	for _, chunk := range chunks {
		if chunk.FilePath == "" {
			continue
		}
		if err := os.Remove(chunk.FilePath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove chunk file %s: %w", chunk.FilePath, err)
		}
	}
	return nil
}

func (s *SQLiteStore) InsertChunk(chunk AudioChunk) (int64, error) {
	status := chunk.Status
	if status == "" {
		status = ChunkPending
	}

	res, err := s.db.Exec(
		`INSERT INTO audio_chunks(recording_id, chunk_index, file_path, start_ms, end_ms, duration_ms, file_size, status)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		chunk.RecordingID,
		chunk.ChunkIndex,
		chunk.FilePath,
		chunk.StartMS,
		chunk.EndMS,
		chunk.DurationMS,
		chunk.FileSize,
		status,
	)
	if err != nil {
		return 0, fmt.Errorf("insert chunk %d for recording %d: %w", chunk.ChunkIndex, chunk.RecordingID, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("chunk insert id: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) ChunkByID(id int64) (AudioChunk, error) {
	row := s.db.QueryRow(chunkColumns+` FROM audio_chunks WHERE id = ?`, id)

	var c AudioChunk
	if err := row.Scan(
		&c.ID, &c.RecordingID, &c.ChunkIndex, &c.FilePath,
		&c.StartMS, &c.EndMS, &c.DurationMS, &c.FileSize,
		&c.Status, &c.Text, &c.Retries, &c.ErrorMessage,
	); err != nil {
		return AudioChunk{}, fmt.Errorf("query chunk %d: %w", id, err)
	}
	return c, nil
}

// ChunksByRecording returns all chunks for a recording ordered by index.
// Transcript assembly depends on this ordering regardless of completion
// order.
func (s *SQLiteStore) ChunksByRecording(recordingID int64) ([]AudioChunk, error) {
	rows, err := s.db.Query(
		chunkColumns+` FROM audio_chunks WHERE recording_id = ? ORDER BY chunk_index ASC`,
		recordingID,
	)
	if err != nil {
		return nil, fmt.Errorf("query chunks for recording %d: %w", recordingID, err)
	}
	defer func() { _ = rows.Close() }()

	chunks := make([]AudioChunk, 0, 32)
	for rows.Next() {
		var c AudioChunk
		if err := rows.Scan(
			&c.ID, &c.RecordingID, &c.ChunkIndex, &c.FilePath,
			&c.StartMS, &c.EndMS, &c.DurationMS, &c.FileSize,
			&c.Status, &c.Text, &c.Retries, &c.ErrorMessage,
		); err != nil {
			return nil, fmt.Errorf("scan chunk for recording %d: %w", recordingID, err)
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunk rows for recording %d: %w", recordingID, err)
	}
	return chunks, nil
}

func (s *SQLiteStore) CountChunks(recordingID int64) (int, error) {
	var n int
	if err := s.db.QueryRow(
		`SELECT COUNT(*) FROM audio_chunks WHERE recording_id = ?`, recordingID,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("count chunks for recording %d: %w", recordingID, err)
	}
	return n, nil
}

func (s *SQLiteStore) CountChunksByStatus(recordingID int64, status string) (int, error) {
	var n int
	if err := s.db.QueryRow(
		`SELECT COUNT(*) FROM audio_chunks WHERE recording_id = ? AND status = ?`,
		recordingID, status,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s chunks for recording %d: %w", status, recordingID, err)
	}
	return n, nil
}

func (s *SQLiteStore) UpdateChunkStatus(id int64, status, text string) error {
	return s.execOne(
		`UPDATE audio_chunks SET status = ?, text = ? WHERE id = ?`,
		"update chunk status", status, text, id,
	)
}

func (s *SQLiteStore) SetChunkError(id int64, message string) error {
	return s.execOne(
		`UPDATE audio_chunks SET error_message = ? WHERE id = ?`,
		"set chunk error", message, id,
	)
}

// IncrementChunkRetries bumps the retry counter in a single atomic update
// and returns the new value.
func (s *SQLiteStore) IncrementChunkRetries(id int64) (int, error) {
	if err := s.execOne(
		`UPDATE audio_chunks SET retries = retries + 1 WHERE id = ?`,
		"increment chunk retries", id,
	); err != nil {
		return 0, err
	}

	var retries int
	if err := s.db.QueryRow(`SELECT retries FROM audio_chunks WHERE id = ?`, id).Scan(&retries); err != nil {
		return 0, fmt.Errorf("read chunk retries: %w", err)
	}
	return retries, nil
}

func (s *SQLiteStore) execOne(query, action string, args ...any) error {
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", action, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", action, err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

const recordingColumns = `SELECT id, title, started_at, ended_at, duration_ms, status, total_chunks, transcribed_chunks,
	transcript, summary_title, summary_body, summary_action_items, summary_key_points, pause_reason, error_message`

const chunkColumns = `SELECT id, recording_id, chunk_index, file_path, start_ms, end_ms, duration_ms, file_size,
	status, text, retries, error_message`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecording(row rowScanner) (Recording, error) {
	var rec Recording
	var startedAt string
	var endedAt sql.NullString
	if err := row.Scan(
		&rec.ID, &rec.Title, &startedAt, &endedAt, &rec.DurationMS, &rec.Status,
		&rec.TotalChunks, &rec.TranscribedChunks, &rec.Transcript,
		&rec.SummaryTitle, &rec.SummaryBody, &rec.SummaryActions, &rec.SummaryKeyPoints,
		&rec.PauseReason, &rec.ErrorMessage,
	); err != nil {
		return Recording{}, fmt.Errorf("scan recording: %w", err)
	}

	parsedStart, err := time.Parse(time.RFC3339Nano, startedAt)
	if err != nil {
		return Recording{}, fmt.Errorf("parse recording started_at: %w", err)
	}
	rec.StartedAt = parsedStart

	if endedAt.Valid {
		parsedEnd, err := time.Parse(time.RFC3339Nano, endedAt.String)
		if err != nil {
			return Recording{}, fmt.Errorf("parse recording ended_at: %w", err)
		}
		rec.EndedAt = &parsedEnd
	}

	return rec, nil
}
