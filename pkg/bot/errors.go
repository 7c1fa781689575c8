package bot

import "fmt"

// RemoteRequestFailedError is a non-200 initial response to a generation
// request. It aborts the turn before any state mutation.
type RemoteRequestFailedError struct {
	Status int
	Detail string
}

func (e *RemoteRequestFailedError) Error() string {
	return fmt.Sprintf("remote request failed with status %d: %s", e.Status, e.Detail)
}

// RemoteStreamError is an error field inside a stream event; the rest of the
// stream is not processed.
type RemoteStreamError struct {
	Detail string
}

func (e *RemoteStreamError) Error() string {
	return fmt.Sprintf("remote stream error: %s", e.Detail)
}

// MalformedEventError is a stream event missing its message field.
type MalformedEventError struct {
	Reason string
}

func (e *MalformedEventError) Error() string {
	return fmt.Sprintf("malformed stream event: %s", e.Reason)
}

// PreconditionFailedError is a local guard failure, for example invoking
// regenerate before the conversation exists. It is reported inline and the
// operation is skipped; no state is mutated.
type PreconditionFailedError struct {
	Reason string
}

func (e *PreconditionFailedError) Error() string {
	return e.Reason
}
