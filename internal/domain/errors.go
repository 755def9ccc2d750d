package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInsufficientCoins = errors.New("insufficient coins")
	ErrQueueUnavailable  = errors.New("queue unavailable")
	ErrTaskNotRetryable  = errors.New("task not retryable")
	ErrTaskNotCancelable = errors.New("task not cancelable")
	ErrProviderFailure   = errors.New("provider failure")
)
