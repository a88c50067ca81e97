package models

import "time"

// TaskDescription is the as-submitted form of a Task: an ordered sequence of
// Selectors to resolve against the Inventory, plus a base64-encoded firmware
// image. All targets resolved from RunOn run this binary concurrently with
// every other task of the same Job.
type TaskDescription struct {
	RunOn     []Selector `json:"run_on"`
	BinaryB64 string     `json:"binary_b64"`
}

// JobDescription is the as-submitted form of a Job: an ordered sequence of
// tasks plus a timeout in seconds applied to every run in the job.
type JobDescription struct {
	Tasks          []TaskDescription `json:"tasks"`
	TimeoutSeconds uint32            `json:"timeout_seconds"`
}

// Task is a validated Task: a fresh id, the fully-resolved Targets (one run
// per Target), and the decoded firmware bytes.
type Task struct {
	ID      string   `json:"id"`
	Targets []Target `json:"targets"`
	Binary  []byte   `json:"-"`
}

// Job is a validated, admitted unit of work: a fresh id, a timeout, and the
// sequence of Tasks in the same order as the submitted JobDescription.
type Job struct {
	ID      string        `json:"id"`
	Timeout time.Duration `json:"-"`
	Tasks   []Task        `json:"tasks"`
}

// RunCount returns the total number of (Task, Target) runs in the job —
// the size the Executor's barrier must be built with.
func (j Job) RunCount() int {
	n := 0
	for _, t := range j.Tasks {
		n += len(t.Targets)
	}
	return n
}

// RunResult is the outcome of one run (one firmware image on one target).
// Exactly one of Success/Failure is meaningful; IsSuccess discriminates.
type RunResult struct {
	IsSuccess bool     `json:"is_success"`
	Logs      []string `json:"logs,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// DefaultRunResult is the value every run slot starts with before its worker
// reports in. A run that is never overwritten (a bug, or a panic that the
// worker pool swallowed) surfaces as this failure rather than a zero value
// that could be mistaken for success.
func DefaultRunResult() RunResult {
	return RunResult{IsSuccess: false, Error: "Never set, possibly timed out"}
}

// SuccessResult builds a successful RunResult.
func SuccessResult(logs []string) RunResult {
	return RunResult{IsSuccess: true, Logs: logs}
}

// FailureResult builds a failed RunResult, optionally carrying a partial log.
func FailureResult(errMsg string, partialLogs []string) RunResult {
	return RunResult{IsSuccess: false, Error: errMsg, Logs: partialLogs}
}

// TaskResult holds one RunResult per Target of the corresponding Task, in
// the same order as Task.Targets.
type TaskResult struct {
	TaskID string      `json:"task_id"`
	Runs   []RunResult `json:"runs"`
}

// JobResult is the final outcome of a Job: one TaskResult per Task plus any
// captured logic-analyzer blobs (base64-encoded, opaque to this server).
type JobResult struct {
	ID               string          `json:"id"`
	Tasks            []TaskResult    `json:"tasks"`
	AnalyzerCaptures []string        `json:"analyzer_captures,omitempty"`
	CompletedAt      time.Time       `json:"completed_at"`
}

// NewPendingJobResult builds a JobResult shaped like job, with every run slot
// set to DefaultRunResult so that a worker crash or deadlock surfaces as a
// visible failure instead of a missing/zero entry.
func NewPendingJobResult(job Job) JobResult {
	tasks := make([]TaskResult, len(job.Tasks))
	for i, t := range job.Tasks {
		runs := make([]RunResult, len(t.Targets))
		for r := range runs {
			runs[r] = DefaultRunResult()
		}
		tasks[i] = TaskResult{TaskID: t.ID, Runs: runs}
	}
	return JobResult{ID: job.ID, Tasks: tasks}
}
