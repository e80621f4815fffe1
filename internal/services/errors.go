package services

import "fmt"

// ThrottledError means the upstream model rejected the call with a rate-limit
// status. It is never retried server-side.
type ThrottledError struct {
	Message string
}

func (e *ThrottledError) Error() string { return e.Message }

// QuotaExhaustedError means upstream quota or billing is exhausted. Terminal
// until an operator intervenes.
type QuotaExhaustedError struct {
	Message string
}

func (e *QuotaExhaustedError) Error() string { return e.Message }

// UpstreamError covers any other non-success upstream outcome.
type UpstreamError struct {
	Status  int
	Message string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream error %d: %s", e.Status, e.Message)
}

// ContextError means one of the context reads failed, so no aggregation
// result exists. The design has no partial/degraded context.
type ContextError struct {
	Source string
	Err    error
}

func (e *ContextError) Error() string {
	return fmt.Sprintf("context read %q failed: %v", e.Source, e.Err)
}

func (e *ContextError) Unwrap() error { return e.Err }
