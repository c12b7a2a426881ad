package provider

import "fmt"

// TransportError means the call to the provider itself failed: network
// error, non-2xx status, or an API-level failure code.
type TransportError struct {
	Status int
	Body   string
	Err    error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider transport error: %v", e.Err)
	}
	return fmt.Sprintf("provider transport error: status=%d body=%s", e.Status, e.Body)
}

func (e *TransportError) Unwrap() error { return e.Err }

// SemanticError means the provider call succeeded but the payload is
// unusable: empty or missing result URLs, unparseable result JSON, or a
// state the client does not understand. Distinguishing this from a
// transport failure matters for triage; the two are escalated separately.
type SemanticError struct {
	TaskID string
	Reason string
	Body   string
}

func (e *SemanticError) Error() string {
	return fmt.Sprintf("provider semantic error: task=%s reason=%s", e.TaskID, e.Reason)
}

// TimeoutError reports that the bounded overall deadline for one submit and
// poll cycle elapsed before the task reached a terminal state.
type TimeoutError struct {
	TaskID string
	Waited string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("provider timeout: task=%s waited=%s", e.TaskID, e.Waited)
}
