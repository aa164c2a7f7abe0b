package models

import "fmt"

// TransportError is a connection failure. It is recovered automatically via
// backoff and surfaced as a non-fatal status, never as a crash.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// MalformedMessageError marks an inbound message that failed boundary
// validation. The message is dropped and processing continues.
type MalformedMessageError struct {
	Kind   string
	Reason string
}

func (e *MalformedMessageError) Error() string {
	return fmt.Sprintf("malformed %s message: %s", e.Kind, e.Reason)
}

// ClusteringInputError marks a driver excluded from one clustering pass
// because of degenerate input (NaN or out-of-range coordinates).
type ClusteringInputError struct {
	DriverID string
	Reason   string
}

func (e *ClusteringInputError) Error() string {
	return fmt.Sprintf("clustering input: driver %s: %s", e.DriverID, e.Reason)
}
