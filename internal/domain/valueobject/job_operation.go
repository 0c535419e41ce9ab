package valueobject

import "fmt"

// JobOperation identifies the kind of AI-processing work a job performs.
type JobOperation string

// Job operation constants.
const (
	// OperationReceiptExtraction extracts structured receipt fields from an image.
	OperationReceiptExtraction JobOperation = "receipt_extraction"
	// OperationEmbeddingGeneration produces a searchable vector embedding
	// for an already-extracted receipt.
	OperationEmbeddingGeneration JobOperation = "embedding_generation"
)

var validOperations = map[JobOperation]bool{
	OperationReceiptExtraction:   true,
	OperationEmbeddingGeneration: true,
}

// NewJobOperation creates a new JobOperation with validation.
func NewJobOperation(operation string) (JobOperation, error) {
	op := JobOperation(operation)
	if !validOperations[op] {
		return "", fmt.Errorf("invalid job operation: %s", operation)
	}
	return op, nil
}

// String returns the string representation of the operation.
func (o JobOperation) String() string {
	return string(o)
}

// InputType returns the provider input type this operation submits.
func (o JobOperation) InputType() InputType {
	if o == OperationReceiptExtraction {
		return InputTypeImage
	}
	return InputTypeText
}

// InputType describes the payload kind sent to a provider model.
type InputType string

// Input type constants.
const (
	InputTypeImage InputType = "image"
	InputTypeText  InputType = "text"
)

// String returns the string representation of the input type.
func (t InputType) String() string {
	return string(t)
}
