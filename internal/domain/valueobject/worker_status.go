package valueobject

import "fmt"

// WorkerStatus represents the lifecycle state of a worker process.
type WorkerStatus string

// Worker status constants.
const (
	WorkerStatusActive  WorkerStatus = "active"
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusStopped WorkerStatus = "stopped"
)

var validWorkerStatuses = map[WorkerStatus]bool{
	WorkerStatusActive:  true,
	WorkerStatusIdle:    true,
	WorkerStatusStopped: true,
}

// NewWorkerStatus creates a new WorkerStatus with validation.
func NewWorkerStatus(status string) (WorkerStatus, error) {
	s := WorkerStatus(status)
	if !validWorkerStatuses[s] {
		return "", fmt.Errorf("invalid worker status: %s", status)
	}
	return s, nil
}

// String returns the string representation of the status.
func (s WorkerStatus) String() string {
	return string(s)
}
