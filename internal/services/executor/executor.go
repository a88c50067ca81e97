// Package executor consumes admitted Jobs one at a time, fans out one
// Probe Runner worker per (Task, Target) run, barrier-synchronizes them,
// drives logic-analyzer capture across the synchronized window, and
// assembles the JobResult.
package executor

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/bobmcallan/hilci/internal/barrier"
	"github.com/bobmcallan/hilci/internal/common"
	"github.com/bobmcallan/hilci/internal/elfinfo"
	"github.com/bobmcallan/hilci/internal/logicanalyzer"
	"github.com/bobmcallan/hilci/internal/models"
	"github.com/bobmcallan/hilci/internal/probe"
	"github.com/bobmcallan/hilci/internal/proberunner"
	"github.com/bobmcallan/hilci/internal/workerpool"
)

// Queue is the subset of *queue.Queue the Executor needs, kept narrow so
// tests can supply a fake.
type Queue interface {
	Next(ctx context.Context) (models.Job, bool)
	SubmitResult(result models.JobResult)
}

// Executor runs the single consumer loop over the Admission Queue.
type Executor struct {
	queue             Queue
	driver            probe.Driver
	pool              *workerpool.Pool
	analyzer          *logicanalyzer.Client
	logger            *common.Logger
	maxTargetTimeout  time.Duration
	analyzerSamplerMHz int
}

// Config bundles the Executor's tunables.
type Config struct {
	MaxTargetTimeout   time.Duration
	AnalyzerSamplerMHz int
}

// New returns an Executor that will pull jobs from q, drive probes through
// driver, and run blocking work through pool.
func New(q Queue, driver probe.Driver, pool *workerpool.Pool, analyzer *logicanalyzer.Client, logger *common.Logger, cfg Config) *Executor {
	samplerate := cfg.AnalyzerSamplerMHz
	if samplerate <= 0 {
		samplerate = 24
	}
	return &Executor{
		queue:              q,
		driver:             driver,
		pool:               pool,
		analyzer:           analyzer,
		logger:             logger,
		maxTargetTimeout:   cfg.MaxTargetTimeout,
		analyzerSamplerMHz: samplerate,
	}
}

// Run is the Executor's consumer loop. It blocks until ctx is done.
func (e *Executor) Run(ctx context.Context) {
	for {
		job, ok := e.queue.Next(ctx)
		if !ok {
			return
		}
		result := e.runJob(ctx, job)
		e.queue.SubmitResult(result)
	}
}

func (e *Executor) runJob(ctx context.Context, job models.Job) models.JobResult {
	result := models.NewPendingJobResult(job)
	result.CompletedAt = time.Time{}

	effectiveTimeout := job.Timeout
	if e.maxTargetTimeout > 0 && e.maxTargetTimeout < effectiveTimeout {
		effectiveTimeout = e.maxTargetTimeout
	}

	runCount := job.RunCount()
	if runCount == 0 {
		result.CompletedAt = time.Now()
		return result
	}
	b := barrier.New(runCount)

	probeMutex := &sync.Mutex{}

	handles := e.startCaptures(ctx)

	var mu sync.Mutex
	var wg sync.WaitGroup
	for ti, task := range job.Tasks {
		for _, target := range task.Targets {
			ti, target := ti, target
			wg.Add(1)
			e.pool.Go(fmt.Sprintf("run-%s-%s", job.ID, target.ProbeSerial), func() {
				defer wg.Done()
				outcome := e.runOne(ctx, task, target, probeMutex, b, effectiveTimeout)
				mu.Lock()
				setRunResult(&result, ti, target.ProbeSerial, task.Targets, outcome)
				mu.Unlock()
			})
		}
	}
	wg.Wait()

	result.AnalyzerCaptures = e.stopCaptures(handles)
	result.CompletedAt = time.Now()
	return result
}

func (e *Executor) runOne(ctx context.Context, task models.Task, target models.Target, probeMutex *sync.Mutex, b *barrier.Barrier, timeout time.Duration) models.RunResult {
	tok := b.NewToken()

	info, err := elfinfo.Parse(task.Binary)
	if err != nil {
		tok.Release()
		return models.FailureResult(fmt.Sprintf("elf: %v", err), nil)
	}

	runner := proberunner.New(e.driver, probeMutex, info, task.Binary, e.logger)
	return runner.Run(ctx, target, tok, b, timeout)
}

// setRunResult places outcome into result at the (task index, probe serial)
// slot matching targets[...]. Both the task and the target must be found —
// anything else means the Executor has a bug, not that the run failed.
func setRunResult(result *models.JobResult, taskIdx int, serial string, targets []models.Target, outcome models.RunResult) {
	for ri, t := range targets {
		if t.ProbeSerial == serial {
			result.Tasks[taskIdx].Runs[ri] = outcome
			return
		}
	}
	panic(fmt.Sprintf("executor: no run slot for task %d probe %s", taskIdx, serial))
}

func (e *Executor) startCaptures(ctx context.Context) []*logicanalyzer.Handle {
	if e.analyzer == nil {
		return nil
	}
	analyzers, err := e.analyzer.Enumerate(ctx)
	if err != nil {
		e.logger.Warn().Err(err).Msg("logic analyzer enumeration failed, continuing without capture")
		return nil
	}

	var handles []*logicanalyzer.Handle
	for _, a := range analyzers {
		h, err := e.analyzer.StartCapture(ctx, a, e.analyzerSamplerMHz)
		if err != nil {
			e.logger.Warn().Str("analyzer", a.ID).Err(err).Msg("failed to start logic analyzer capture")
			continue
		}
		handles = append(handles, h)
	}
	return handles
}

func (e *Executor) stopCaptures(handles []*logicanalyzer.Handle) []string {
	if len(handles) == 0 {
		return nil
	}
	var blobs []string
	for _, h := range handles {
		blob, err := e.analyzer.StopCapture(h)
		if err != nil {
			e.logger.Warn().Err(err).Msg("failed to stop logic analyzer capture")
			continue
		}
		blobs = append(blobs, base64.StdEncoding.EncodeToString(blob))
	}
	return blobs
}
