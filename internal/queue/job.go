// Package queue implements the durable task pipeline on Redis. Each service
// operation is one job carrying its ordered step list; the job is re-enqueued
// after every completed step so a worker restart resumes exactly where the
// operation left off. Delivery is at least once and FIFO per operation.
package queue

import "encoding/json"

// Job is one operation's position in its pipeline.
type Job struct {
	OperationID   int64    `json:"operation_id"`
	InstanceID    string   `json:"instance_id"`
	CorrelationID string   `json:"correlation_id"`
	Steps         []string `json:"steps"`
	Step          int      `json:"step"`
	Attempt       int      `json:"attempt"`
}

// CurrentStep returns the name of the step the job is positioned at.
func (j *Job) CurrentStep() string {
	return j.Steps[j.Step]
}

// Done reports whether every step has completed.
func (j *Job) Done() bool {
	return j.Step >= len(j.Steps)
}

func (j *Job) encode() (string, error) {
	raw, err := json.Marshal(j)
	return string(raw), err
}

func decodeJob(raw string) (*Job, error) {
	var j Job
	if err := json.Unmarshal([]byte(raw), &j); err != nil {
		return nil, err
	}
	return &j, nil
}
