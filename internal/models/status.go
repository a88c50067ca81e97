package models

// JobState is the server-visible lifecycle state of a Job id, returned by
// the Admission Queue's status query.
type JobState string

const (
	JobStateRunning  JobState = "running"
	JobStateInQueue  JobState = "in_queue"
	JobStateFinished JobState = "finished"
	JobStateNotFound JobState = "not_found"
)

// ServerStatusSnapshot is the JSON shape returned by GET /status.
type ServerStatusSnapshot struct {
	CurrentJob string   `json:"current_job,omitempty"`
	Queued     []string `json:"queued"`
	Finished   []string `json:"finished"`
}
