package service

import "errors"

// Sentinel errors the API layer maps onto HTTP statuses.
var (
	ErrJobNotFound   = errors.New("job not found")
	ErrBatchNotFound = errors.New("batch session not found")
	ErrValidation    = errors.New("validation failed")
)
