package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bobmcallan/hilci/internal/models"
)

func TestTryEnqueueRejectsOverCapacity(t *testing.T) {
	q := New(1)
	if err := q.TryEnqueue(models.Job{ID: "a"}); err != nil {
		t.Fatalf("first enqueue should succeed: %v", err)
	}
	if err := q.TryEnqueue(models.Job{ID: "b"}); !errors.Is(err, ErrTooManyJobs) {
		t.Fatalf("expected ErrTooManyJobs, got %v", err)
	}
}

func TestTryEnqueueRejectsAfterClose(t *testing.T) {
	q := New(1)
	q.Close()
	if err := q.TryEnqueue(models.Job{ID: "a"}); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed, got %v", err)
	}
}

func TestNextTransitionsQueuedToRunning(t *testing.T) {
	q := New(2)
	if err := q.TryEnqueue(models.Job{ID: "a"}); err != nil {
		t.Fatal(err)
	}

	if status := q.JobStatus("a"); status != models.JobStateInQueue {
		t.Fatalf("expected in_queue, got %s", status)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	job, ok := q.Next(ctx)
	if !ok || job.ID != "a" {
		t.Fatalf("Next() = %+v, %v", job, ok)
	}

	if status := q.JobStatus("a"); status != models.JobStateRunning {
		t.Fatalf("expected running, got %s", status)
	}
}

func TestNextUnblocksOnContextCancellation(t *testing.T) {
	q := New(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, ok := q.Next(ctx)
	if ok {
		t.Fatal("expected Next to report false once ctx is done with nothing queued")
	}
}

func TestSubmitResultTransitionsRunningToFinished(t *testing.T) {
	q := New(2)
	_ = q.TryEnqueue(models.Job{ID: "a"})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, _ = q.Next(ctx)

	q.SubmitResult(models.JobResult{ID: "a"})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if q.JobStatus("a") == models.JobStateFinished {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if status := q.JobStatus("a"); status != models.JobStateFinished {
		t.Fatalf("expected finished, got %s", status)
	}

	result, ok := q.Result("a")
	if !ok || result.ID != "a" {
		t.Fatalf("Result(a) = %+v, %v", result, ok)
	}

	last, ok := q.LastResult()
	if !ok || last.ID != "a" {
		t.Fatalf("LastResult() = %+v, %v", last, ok)
	}
}

func TestFinishedFIFOEvictsOldestAtCapacity(t *testing.T) {
	q := New(5)
	for _, id := range []string{"a", "b"} {
		_ = q.TryEnqueue(models.Job{ID: id})
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, _ = q.Next(ctx)
	q.SubmitResult(models.JobResult{ID: "a"})
	_, _ = q.Next(ctx)
	q.SubmitResult(models.JobResult{ID: "b"})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		snap := q.Snapshot()
		if len(snap.Finished) == 2 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	// capacity here is the FIFO bound, not hit yet with only two results.
	if _, ok := q.Result("a"); !ok {
		t.Error("expected \"a\" to still be held, FIFO not at capacity")
	}
}

func TestJobStatusNotFoundForUnknownID(t *testing.T) {
	q := New(1)
	if status := q.JobStatus("never-submitted"); status != models.JobStateNotFound {
		t.Fatalf("expected not_found, got %s", status)
	}
}
