package conversation

import (
	"errors"
	"fmt"
)

// ErrSessionClosed is returned when submitting to a session that has shut down.
var ErrSessionClosed = errors.New("conversation session closed")

// ConfigurationError reports malformed authored data: a bad TriggerDetail,
// an unusable action, or an unresolvable goto target. It never stops a
// running session.
type ConfigurationError struct {
	Scope  string
	Detail string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration error in %s: %s: %v", e.Scope, e.Detail, e.Err)
	}
	return fmt.Sprintf("configuration error in %s: %s", e.Scope, e.Detail)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// ResolutionKind distinguishes why a goto target could not be resolved.
type ResolutionKind string

const (
	ResolutionNotFound  ResolutionKind = "not_found"
	ResolutionAmbiguous ResolutionKind = "ambiguous"
)

// ResolutionError is returned by the resolver when a target name does not
// identify exactly one interaction or conversation.
type ResolutionError struct {
	Kind       ResolutionKind
	Target     string
	Candidates []string
}

func (e *ResolutionError) Error() string {
	if e.Kind == ResolutionAmbiguous {
		return fmt.Sprintf("target %q is ambiguous between conversations %v", e.Target, e.Candidates)
	}
	return fmt.Sprintf("target %q not found", e.Target)
}

// FatalInitializationError prevents a session from starting.
type FatalInitializationError struct {
	Reason string
	Err    error
}

func (e *FatalInitializationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("initialization failed: %s: %v", e.Reason, e.Err)
	}
	return "initialization failed: " + e.Reason
}

func (e *FatalInitializationError) Unwrap() error { return e.Err }

// IsFatal reports whether err prevents a session from running.
func IsFatal(err error) bool {
	var fe *FatalInitializationError
	return errors.As(err, &fe)
}
