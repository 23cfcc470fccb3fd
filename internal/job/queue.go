package job

import (
	"context"
	"fmt"
)

// Runner processes one recording and reports the attempt's outcome.
type Runner func(ctx context.Context, recordingID int64) Result

// Queue binds the pipelines to the dispatcher. A transcription that ends in
// Success automatically enqueues summary generation for the same recording.
type Queue struct {
	dispatcher *Dispatcher
	transcribe Runner
	summarize  Runner
}

func NewQueue(dispatcher *Dispatcher, transcribe, summarize Runner) *Queue {
	return &Queue{dispatcher: dispatcher, transcribe: transcribe, summarize: summarize}
}

func (q *Queue) EnqueueTranscription(recordingID int64) {
	key := fmt.Sprintf("transcribe:%d", recordingID)
	q.dispatcher.Enqueue(key, func(ctx context.Context) Result {
		result := q.transcribe(ctx, recordingID)
		if result == Success {
			q.EnqueueSummary(recordingID)
		}
		return result
	})
}

func (q *Queue) EnqueueSummary(recordingID int64) {
	key := fmt.Sprintf("summarize:%d", recordingID)
	q.dispatcher.Enqueue(key, func(ctx context.Context) Result {
		return q.summarize(ctx, recordingID)
	})
}
