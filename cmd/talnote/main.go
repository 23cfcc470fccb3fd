package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/talnote/talnote/internal/audio"
	"github.com/talnote/talnote/internal/config"
	"github.com/talnote/talnote/internal/export"
	"github.com/talnote/talnote/internal/gdrive"
	"github.com/talnote/talnote/internal/job"
	"github.com/talnote/talnote/internal/server"
	"github.com/talnote/talnote/internal/session"
	"github.com/talnote/talnote/internal/storage"
	"github.com/talnote/talnote/internal/summary"
	"github.com/talnote/talnote/internal/transcribe"
)

// driveExporter writes the note locally and mirrors it to Google Drive.
type driveExporter struct {
	writer *export.Writer
	syncer *gdrive.Syncer
}

func (e driveExporter) Export(rec storage.Recording) error {
	if err := e.writer.Export(rec); err != nil {
		return err
	}
	return e.syncer.SyncNote(e.writer.Path(rec))
}

func main() {
	log.Println("talnote: starting")

	configPath := os.Getenv(config.EnvPrefix + "CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, warnings, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	for _, w := range warnings {
		log.Printf("warning: %s", w)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	store, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("storage init failed: %v", err)
	}
	defer func() { _ = store.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := server.NewHub()

	transcriber, err := transcribe.New(cfg.TranscriptionProvider, cfg.TranscriptionAPIKey(), cfg.TranscriptionModel)
	if err != nil {
		log.Fatalf("transcriber init failed: %v", err)
	}
	summarizer, err := summary.New(cfg.SummaryModel, cfg.SummaryAPIKey())
	if err != nil {
		log.Fatalf("summarizer init failed: %v", err)
	}

	writer := export.NewWriter(cfg.NotesDir)
	var exporter summary.Exporter = writer
	if cfg.GDriveFolderID != "" {
		syncer, syncErr := gdrive.NewSyncer(ctx, cfg.GoogleCredentialsFile, cfg.GDriveFolderID)
		if syncErr != nil {
			log.Printf("warning: gdrive sync disabled: %v", syncErr)
		} else {
			exporter = driveExporter{writer: writer, syncer: syncer}
			go syncDBLoop(ctx, syncer, cfg.DBPath)
		}
	}

	transcribePipeline := transcribe.NewPipeline(store, transcriber, hub, logger)
	summaryPipeline := summary.NewPipeline(store, summarizer, hub, exporter, logger)

	dispatcher := job.NewDispatcher(job.Config{
		MaxAttempts: cfg.JobMaxAttempts,
		BackoffBase: cfg.ParsedJobBackoff(),
		Logger:      logger,
	})
	queue := job.NewQueue(dispatcher, transcribePipeline.Process, summaryPipeline.Process)

	if err := portaudio.Initialize(); err != nil {
		log.Printf("warning: portaudio init failed, recording disabled: %v", err)
	} else {
		defer func() { _ = portaudio.Terminate() }()
	}

	sampleRate := probeSampleRate(cfg.SampleRateCandidates())
	if sampleRate == 0 {
		log.Printf("warning: microphone unavailable, API only")
		sampleRate = cfg.SampleRate
	} else {
		log.Printf("microphone ready at %d Hz", sampleRate)
	}

	recorder := session.NewRecorder(session.Config{
		Audio: audio.Config{
			AudioDir:          cfg.AudioDir,
			SampleRate:        sampleRate,
			ChunkSeconds:      cfg.ChunkSeconds,
			OverlapSeconds:    cfg.OverlapSeconds,
			StorageFloorBytes: cfg.StorageFloorBytes(),
			SilenceThreshold:  cfg.SilenceThreshold,
			SilenceSeconds:    cfg.SilenceSeconds,
			Logger:            logger,
		},
		Logger: logger,
	}, store, queue, hub, func(rate int) (audio.Source, error) {
		return audio.NewMic(rate, rate/10)
	})

	recoverInterrupted(store, queue)

	go func() {
		if err := server.Serve(cfg.ListenAddr, hub, store, recorder); err != nil {
			log.Fatalf("http server failed: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Println("talnote: shutting down")

	if state, _, _ := recorder.State(); state != "idle" {
		if err := recorder.Stop(); err != nil {
			log.Printf("warning: stop recording failed: %v", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := dispatcher.Shutdown(shutdownCtx); err != nil {
		log.Printf("warning: job shutdown failed: %v", err)
	}
	cancel()
}

// syncDBLoop periodically mirrors the database file to Drive, one snapshot
// per day.
func syncDBLoop(ctx context.Context, syncer *gdrive.Syncer, dbPath string) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			name := "talnote-db-" + time.Now().UTC().Format("2006-01-02")
			if err := syncer.SyncFile(dbPath, name); err != nil {
				log.Printf("gdrive sync error: %v", err)
			}
		}
	}
}

// probeSampleRate opens and closes a capture stream at each candidate rate,
// returning the first rate the device accepts, or 0 if none work.
func probeSampleRate(candidates []int) int {
	for _, rate := range candidates {
		mic, err := audio.NewMic(rate, rate/10)
		if err != nil {
			log.Printf("warning: microphone open failed at %d Hz: %v", rate, err)
			continue
		}
		_ = mic.Close()
		return rate
	}
	return 0
}

// recoverInterrupted resumes pipeline work stranded by an unclean shutdown.
// Recordings caught mid-capture cannot be resumed and are marked as errors;
// anything past capture is re-enqueued at the stage it was in.
func recoverInterrupted(store *storage.SQLiteStore, queue *job.Queue) {
	stranded, err := store.ListRecordingsByStatus(storage.StatusRecording, storage.StatusPaused)
	if err != nil {
		log.Printf("warning: recovery scan failed: %v", err)
		return
	}
	for _, rec := range stranded {
		log.Printf("recovery: recording %d interrupted mid-capture", rec.ID)
		if err := store.MarkError(rec.ID, "interrupted by restart"); err != nil {
			log.Printf("warning: mark recording %d failed: %v", rec.ID, err)
		}
	}

	pending, err := store.ListRecordingsByStatus(
		storage.StatusStopped,
		storage.StatusTranscribing,
		storage.StatusTranscriptComplete,
		storage.StatusGeneratingSummary,
		storage.StatusSummaryComplete,
	)
	if err != nil {
		log.Printf("warning: recovery scan failed: %v", err)
		return
	}
	for _, rec := range pending {
		switch rec.Status {
		case storage.StatusStopped, storage.StatusTranscribing:
			log.Printf("recovery: re-enqueueing transcription for recording %d", rec.ID)
			queue.EnqueueTranscription(rec.ID)
		case storage.StatusTranscriptComplete, storage.StatusGeneratingSummary:
			log.Printf("recovery: re-enqueueing summary for recording %d", rec.ID)
			queue.EnqueueSummary(rec.ID)
		case storage.StatusSummaryComplete:
			// Summary landed but the final status flip did not.
			if err := store.UpdateRecordingStatus(rec.ID, storage.StatusCompleted); err != nil {
				log.Printf("warning: mark recording %d completed failed: %v", rec.ID, err)
			}
		}
	}
}
