package loader

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrMissingMethod  = errors.New("lifecycle method missing")
	ErrMissingTarget  = errors.New("lifecycle target missing")
	ErrTargetMismatch = errors.New("target name does not match token")
	ErrUnknownPhase   = errors.New("unknown lifecycle phase")
)

// HookError reports a lifecycle hook that could not be resolved or failed.
type HookError struct {
	Phase  Phase
	Target string
	Method string
	Err    error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("loader %s %s.%s: %v", e.Phase, e.Target, e.Method, e.Err)
}

func (e *HookError) Unwrap() error { return e.Err }

// PhaseTimeoutError reports the hook that was running when its phase ran out
// of time.
type PhaseTimeoutError struct {
	Phase   Phase
	Target  string
	Method  string
	Timeout time.Duration
}

func (e *PhaseTimeoutError) Error() string {
	return fmt.Sprintf("loader %s phase timed out after %s in %s.%s; make sure the hook returns once its work is done",
		e.Phase, e.Timeout, e.Target, e.Method)
}

func (e *PhaseTimeoutError) Unwrap() error { return context.DeadlineExceeded }
