// Package errdefs holds the error taxonomy shared by the run orchestration
// packages. Callers match them with errors.As.
package errdefs

import "fmt"

// ValidationError rejects a start request before anything is sent.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// SubmissionError reports that the executor rejected or never received a run.
type SubmissionError struct {
	Err error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submit test: %v", e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// StreamProtocolError is a malformed event payload. It is logged and the
// event is dropped; the session keeps running.
type StreamProtocolError struct {
	Event string
	Err   error
}

func (e *StreamProtocolError) Error() string {
	return fmt.Sprintf("malformed %s event: %v", e.Event, e.Err)
}

func (e *StreamProtocolError) Unwrap() error { return e.Err }

// RemoteExecutionError is an explicit error event sent by the executor.
type RemoteExecutionError struct {
	Message string
}

func (e *RemoteExecutionError) Error() string {
	if e.Message == "" {
		return "remote execution failed"
	}
	return "remote execution failed: " + e.Message
}

// TransportError is a failure of the event channel itself.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("event stream transport: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// NoDataError is returned when a snapshot is requested before any run
// has delivered one.
type NoDataError struct{}

func (NoDataError) Error() string {
	return "no summary snapshot captured yet"
}
