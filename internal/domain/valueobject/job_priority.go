package valueobject

import "fmt"

// JobPriority represents the scheduling priority of a processing job.
// Within one priority tier jobs are processed FIFO by creation time;
// there is no fairness guarantee across tiers.
type JobPriority string

// Job priority constants.
const (
	JobPriorityLow    JobPriority = "low"
	JobPriorityMedium JobPriority = "medium"
	JobPriorityHigh   JobPriority = "high"
)

var priorityWeights = map[JobPriority]int{
	JobPriorityLow:    0,
	JobPriorityMedium: 1,
	JobPriorityHigh:   2,
}

// NewJobPriority creates a new JobPriority with validation.
func NewJobPriority(priority string) (JobPriority, error) {
	p := JobPriority(priority)
	if _, ok := priorityWeights[p]; !ok {
		return "", fmt.Errorf("invalid job priority: %s", priority)
	}
	return p, nil
}

// String returns the string representation of the priority.
func (p JobPriority) String() string {
	return string(p)
}

// Weight returns the numeric claim-ordering weight; higher claims first.
func (p JobPriority) Weight() int {
	return priorityWeights[p]
}
