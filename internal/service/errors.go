package service

import "fmt"

// ValidationError reports bad caller input: unknown model, missing inputs,
// unsupported variant. It is returned before any side effect and is never
// escalated to the admin channel.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", e.Reason)
}

func validationErrorf(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}
