package models

import "fmt"

// ValidationError rejects input before any state is created.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// TransferError wraps an upload failure or interruption. The placeholder
// moves to failed and retry stays available.
type TransferError struct {
	Key string // correlation key of the affected message
	Err error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer failed for %s: %v", e.Key, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// WriteError wraps a remote persistence rejection after a successful
// transfer. Retry reuses the already-uploaded media reference.
type WriteError struct {
	Key string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("remote write failed for %s: %v", e.Key, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// SubscriptionError wraps a feed attach/detach failure. It is surfaced to
// the session layer and never corrupts cache state.
type SubscriptionError struct {
	Thread ThreadRef
	Err    error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("subscription failed for %s: %v", e.Thread, e.Err)
}

func (e *SubscriptionError) Unwrap() error { return e.Err }
