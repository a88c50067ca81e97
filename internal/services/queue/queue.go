// Package queue implements the Admission Queue: a bounded channel carrying
// validated Jobs from the HTTP layer to the Executor, a bounded channel
// carrying JobResults back, and the server-visible status those two flows
// produce. Backpressure is client-driven: a full finished-results FIFO
// evicts its oldest entry the moment a new result arrives.
package queue

import (
	"context"
	"errors"
	"sync"

	"github.com/bobmcallan/hilci/internal/models"
)

// ErrTooManyJobs is returned by TryEnqueue when the register channel is at
// capacity.
var ErrTooManyJobs = errors.New("queue: too many jobs")

// ErrQueueClosed is returned by TryEnqueue once Close has been called.
var ErrQueueClosed = errors.New("queue: closed")

// Queue owns the register/finished channel pair and the status bookkeeping
// that answers GET /status and GET /job/by-id/{id}.
type Queue struct {
	capacity   int
	registerCh chan models.Job
	finishedCh chan models.JobResult

	mu              sync.Mutex
	closed          bool
	currentJob      string
	queued          []string
	finishedOrder   []string
	finishedResults map[string]models.JobResult
}

// New returns a Queue with the given capacity for both the register channel
// and the finished-results FIFO, and starts its collector goroutine.
func New(capacity int) *Queue {
	q := &Queue{
		capacity:        capacity,
		registerCh:      make(chan models.Job, capacity),
		finishedCh:      make(chan models.JobResult, capacity),
		finishedResults: make(map[string]models.JobResult),
	}
	go q.collect()
	return q
}

// TryEnqueue attempts a non-blocking admission of job. Success transitions
// the job to InQueue; a full queue or a closed one fails without blocking
// the caller.
func (q *Queue) TryEnqueue(job models.Job) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.mu.Unlock()

	select {
	case q.registerCh <- job:
		q.mu.Lock()
		q.queued = append(q.queued, job.ID)
		q.mu.Unlock()
		return nil
	default:
		return ErrTooManyJobs
	}
}

// Next blocks until a Job is available or ctx is done, transitioning the job
// from InQueue to Running. The channel FIFO guarantees this is always the
// head of the admission order.
func (q *Queue) Next(ctx context.Context) (models.Job, bool) {
	select {
	case job, ok := <-q.registerCh:
		if !ok {
			return models.Job{}, false
		}
		q.mu.Lock()
		if len(q.queued) > 0 && q.queued[0] == job.ID {
			q.queued = q.queued[1:]
		}
		q.currentJob = job.ID
		q.mu.Unlock()
		return job, true
	case <-ctx.Done():
		return models.Job{}, false
	}
}

// SubmitResult hands a finished JobResult to the collector. Blocks only if
// the finished channel is momentarily full, which the collector drains
// continuously.
func (q *Queue) SubmitResult(result models.JobResult) {
	q.finishedCh <- result
}

// collect drains finishedCh into the bounded finished-results FIFO, evicting
// the oldest entry whenever a new one arrives at capacity.
func (q *Queue) collect() {
	for result := range q.finishedCh {
		q.mu.Lock()
		if q.currentJob == result.ID {
			q.currentJob = ""
		}
		if len(q.finishedOrder) >= q.capacity {
			oldest := q.finishedOrder[0]
			q.finishedOrder = q.finishedOrder[1:]
			delete(q.finishedResults, oldest)
		}
		q.finishedOrder = append(q.finishedOrder, result.ID)
		q.finishedResults[result.ID] = result
		q.mu.Unlock()
	}
}

// JobStatus reports the lifecycle state of id.
func (q *Queue) JobStatus(id string) models.JobState {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.currentJob == id {
		return models.JobStateRunning
	}
	for _, qid := range q.queued {
		if qid == id {
			return models.JobStateInQueue
		}
	}
	if _, ok := q.finishedResults[id]; ok {
		return models.JobStateFinished
	}
	return models.JobStateNotFound
}

// Result returns the JobResult for id, if it is still held in the
// finished-results FIFO.
func (q *Queue) Result(id string) (models.JobResult, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	r, ok := q.finishedResults[id]
	return r, ok
}

// LastResult returns the most recently finished JobResult, if any.
func (q *Queue) LastResult() (models.JobResult, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.finishedOrder) == 0 {
		return models.JobResult{}, false
	}
	id := q.finishedOrder[len(q.finishedOrder)-1]
	return q.finishedResults[id], true
}

// Snapshot returns the current ServerStatus for GET /status.
func (q *Queue) Snapshot() models.ServerStatusSnapshot {
	q.mu.Lock()
	defer q.mu.Unlock()
	return models.ServerStatusSnapshot{
		CurrentJob: q.currentJob,
		Queued:     append([]string(nil), q.queued...),
		Finished:   append([]string(nil), q.finishedOrder...),
	}
}

// Close stops future admissions and closes the register channel, letting
// the Executor's consumer loop exit cleanly once drained.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	close(q.registerCh)
}
