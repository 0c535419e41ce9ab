package valueobject

import "fmt"

// BatchStatus represents the aggregate state of a batch session.
// It is derived purely from the session's file counters.
type BatchStatus string

// Batch status constants.
const (
	BatchStatusRunning   BatchStatus = "running"
	BatchStatusCompleted BatchStatus = "completed"
	BatchStatusPartial   BatchStatus = "partial"
	BatchStatusFailed    BatchStatus = "failed"
	BatchStatusCancelled BatchStatus = "cancelled"
)

var validBatchStatuses = map[BatchStatus]bool{
	BatchStatusRunning:   true,
	BatchStatusCompleted: true,
	BatchStatusPartial:   true,
	BatchStatusFailed:    true,
	BatchStatusCancelled: true,
}

// NewBatchStatus creates a new BatchStatus with validation.
func NewBatchStatus(status string) (BatchStatus, error) {
	s := BatchStatus(status)
	if !validBatchStatuses[s] {
		return "", fmt.Errorf("invalid batch status: %s", status)
	}
	return s, nil
}

// String returns the string representation of the status.
func (s BatchStatus) String() string {
	return string(s)
}

// IsTerminal returns true once a batch can no longer change.
// A terminal batch is never resurrected.
func (s BatchStatus) IsTerminal() bool {
	return s != BatchStatusRunning
}
