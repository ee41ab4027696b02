// Background worker for summarization.
package compression

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/compresr/streamchat/internal/assembler"
	"github.com/compresr/streamchat/internal/conversation"
)

// JobStatus represents the status of a summarization job.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobSkipped   JobStatus = "skipped"
	JobFailed    JobStatus = "failed"
)

// Job represents a background summarization job.
type Job struct {
	ID           string
	Conversation int
	MessageID    int64
	Status       JobStatus
	CreatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
	Tokens       int
	Error        string
	done         chan struct{}
}

// JobID is the dedupe key of a message.
func JobID(conv int, messageID int64) string {
	return fmt.Sprintf("%d:%d", conv, messageID)
}

// Worker summarizes messages in the background. Concurrent requests for the
// same message share one summarization.
type Worker struct {
	engine  *Engine
	source  conversation.Source
	global  conversation.ModelConfig
	policy  assembler.SubstitutionPolicy
	workers int
	history int

	group    singleflight.Group
	jobs     map[string]*Job
	finished []*Job // Oldest first, capped at history
	jobQueue chan *Job
	mu       sync.RWMutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewWorker creates a background worker. global is the lowest configuration
// layer used to resolve each conversation's settings.
func NewWorker(engine *Engine, source conversation.Source, global conversation.ModelConfig, cfg Config) *Worker {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 2
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 100
	}
	history := cfg.JobHistory
	if history <= 0 {
		history = 256
	}
	return &Worker{
		engine:   engine,
		source:   source,
		global:   global,
		policy:   cfg.Substitution,
		workers:  workers,
		history:  history,
		jobs:     make(map[string]*Job),
		jobQueue: make(chan *Job, queueSize),
		stopChan: make(chan struct{}),
	}
}

// Start starts background workers.
func (w *Worker) Start() {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	log.Info().Int("workers", w.workers).Msg("Starting summarization workers")
	for i := 0; i < w.workers; i++ {
		w.wg.Add(1)
		go w.processJobs(i)
	}
}

// Stop stops all workers. Queued jobs are left unprocessed.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stopChan)
	w.mu.Unlock()
	w.wg.Wait()
	log.Info().Msg("Summarization workers stopped")
}

// Submit queues a summarization of one message. A job already queued or
// running for the same message is returned instead.
func (w *Worker) Submit(conv int, messageID int64) *Job {
	id := JobID(conv, messageID)

	w.mu.Lock()
	defer w.mu.Unlock()

	if existing, ok := w.jobs[id]; ok {
		if existing.Status == JobQueued || existing.Status == JobRunning {
			return existing
		}
	}

	job := &Job{
		ID:           id,
		Conversation: conv,
		MessageID:    messageID,
		Status:       JobQueued,
		CreatedAt:    time.Now(),
		done:         make(chan struct{}),
	}
	w.jobs[id] = job

	select {
	case w.jobQueue <- job:
		log.Debug().Str("job_id", id).Msg("Summarization job queued")
	default:
		job.Status = JobFailed
		job.Error = "queue full"
		close(job.done)
		w.retire(job)
		log.Warn().Str("job_id", id).Msg("Summarization queue full, dropping job")
	}

	return job
}

// Get retrieves a job.
func (w *Worker) Get(conv int, messageID int64) *Job {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.jobs[JobID(conv, messageID)]
}

// Wait waits for a job to complete with timeout.
func (w *Worker) Wait(conv int, messageID int64, timeout time.Duration) bool {
	w.mu.RLock()
	job, ok := w.jobs[JobID(conv, messageID)]
	w.mu.RUnlock()

	if !ok {
		return false
	}

	select {
	case <-job.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Run summarizes one message synchronously and applies the result to the
// live conversation.
func (w *Worker) Run(ctx context.Context, conv int, messageID int64, opts SummarizeOptions) (*SummaryResponse, error) {
	key := JobID(conv, messageID)
	if opts.Force {
		key += ":force"
	}

	v, err, shared := w.group.Do(key, func() (interface{}, error) {
		return w.summarize(ctx, conv, messageID, opts)
	})
	if shared {
		log.Debug().Str("job_id", key).Msg("Summarization shared with in-flight call")
	}
	if err != nil {
		return nil, err
	}
	return v.(*SummaryResponse), nil
}

func (w *Worker) summarize(ctx context.Context, conv int, messageID int64, opts SummarizeOptions) (*SummaryResponse, error) {
	c, ok := w.source.Get(conv)
	if !ok {
		return nil, fmt.Errorf("conversation %d not found", conv)
	}
	cfg := conversation.Resolve(w.global, c.Config, conversation.Overrides{})
	snap := NewSnapshot(conv, &c, cfg)
	snap.Policy = w.policy

	target, ok := snap.Find(messageID)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrMessageNotFound, messageID)
	}
	original := target.Content

	resp, err := w.engine.Summarize(ctx, snap, messageID, opts)
	if err != nil {
		return nil, err
	}

	applied := false
	if err := w.source.Update(conv, func(live *conversation.Conversation) {
		i := live.Find(messageID)
		// An edited message keeps its raw content.
		if i < 0 || live.Messages[i].Content != original {
			return
		}
		applied = Apply(&live.Messages[i], resp)
	}); err != nil {
		return nil, err
	}
	if !applied {
		log.Debug().Int("conversation", conv).Int64("message_id", messageID).Msg("Summary not applied, message changed")
	}
	return resp, nil
}

func (w *Worker) processJobs(workerID int) {
	defer w.wg.Done()

	for {
		select {
		case <-w.stopChan:
			return
		case job := <-w.jobQueue:
			w.processJob(workerID, job)
		}
	}
}

func (w *Worker) processJob(workerID int, job *Job) {
	startTime := time.Now()

	w.mu.Lock()
	job.Status = JobRunning
	job.StartedAt = &startTime
	w.mu.Unlock()

	log.Debug().Int("worker", workerID).Str("job_id", job.ID).Msg("Processing summarization job")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-w.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()
	resp, err := w.Run(ctx, job.Conversation, job.MessageID, SummarizeOptions{})
	cancel()

	now := time.Now()

	w.mu.Lock()
	defer w.mu.Unlock()

	job.CompletedAt = &now
	switch {
	case err == nil:
		job.Status = JobCompleted
		job.Tokens = resp.Tokens
	case errors.Is(err, ErrBelowThreshold), errors.Is(err, ErrAlreadySummarized):
		job.Status = JobSkipped
		job.Error = err.Error()
	default:
		job.Status = JobFailed
		job.Error = err.Error()
		log.Warn().Err(err).Str("job_id", job.ID).Msg("Summarization job failed")
	}

	close(job.done)
	w.retire(job)
}

// retire records a finished job and forgets the oldest finished ones beyond
// the history cap. Callers hold w.mu.
func (w *Worker) retire(job *Job) {
	w.finished = append(w.finished, job)
	for len(w.finished) > w.history {
		old := w.finished[0]
		w.finished[0] = nil
		w.finished = w.finished[1:]
		// A resubmitted message maps to a newer job.
		if w.jobs[old.ID] == old {
			delete(w.jobs, old.ID)
		}
	}
}

// Stats returns worker statistics.
func (w *Worker) Stats() map[string]interface{} {
	w.mu.RLock()
	defer w.mu.RUnlock()

	counts := make(map[JobStatus]int)
	for _, job := range w.jobs {
		counts[job.Status]++
	}

	return map[string]interface{}{
		"total_jobs":   len(w.jobs),
		"queue_length": len(w.jobQueue),
		"by_status":    counts,
		"running":      w.running,
	}
}
