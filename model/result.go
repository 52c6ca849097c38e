package model

import (
	"errors"
	"fmt"
)

// ErrorKind is a stable, machine-checkable failure category.
type ErrorKind string

const (
	// ErrEmptyInput means a zero-length upload.
	ErrEmptyInput ErrorKind = "empty_input"
	// ErrDecodeFailure means the uploaded bytes are not a valid image.
	ErrDecodeFailure ErrorKind = "decode_failure"
	// ErrUnsupportedModel means the requested model id is unknown or failed
	// to initialize.
	ErrUnsupportedModel ErrorKind = "unsupported_model"
	// ErrSegmentationFailure means the inference backend raised an error or
	// returned malformed output, after the fallback retry was exhausted.
	ErrSegmentationFailure ErrorKind = "segmentation_failure"
	// ErrResourceExceeded means the input size or dimensions are over the
	// configured ceiling.
	ErrResourceExceeded ErrorKind = "resource_exceeded"
	// ErrQueueFull means the worker pool could not accept the request within
	// the queue timeout.
	ErrQueueFull ErrorKind = "queue_full"
)

// PipelineError carries a failure kind and a human-readable detail through
// the processing pipeline up to the HTTP layer.
type PipelineError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *PipelineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// NewError builds a PipelineError without an underlying cause.
func NewError(kind ErrorKind, message string) *PipelineError {
	return &PipelineError{Kind: kind, Message: message}
}

// WrapError builds a PipelineError around an underlying cause.
func WrapError(kind ErrorKind, message string, err error) *PipelineError {
	return &PipelineError{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the error kind, if err is (or wraps) a PipelineError.
func KindOf(err error) (ErrorKind, bool) {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind, true
	}
	return "", false
}

// ErrorResponse is the JSON envelope for failed requests.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Kind    string `json:"kind,omitempty"`
	Error   string `json:"error,omitempty"`
}
