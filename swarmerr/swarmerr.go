// ABOUTME: Orchestration-level error taxonomy: configuration, delegation, recovery, and hook failures.
// ABOUTME: Distinct from llm's provider-error hierarchy — these describe swarm/agent wiring, not LLM calls.

package swarmerr

import "fmt"

// ConfigurationError indicates a swarm or agent definition failed validation
// before it could run — an unknown delegation target, an unknown lead agent,
// or an otherwise invalid configuration.
type ConfigurationError struct {
	Detail string
}

func (e *ConfigurationError) Error() string { return "swarmsdk: configuration error: " + e.Detail }

// CircularDelegationError describes a delegation target that already
// appears on the calling path. The delegation tool detects this at call
// time and does not raise it: it emits delegation_circular_dependency and
// returns this error's text as the tool result, without calling the target.
type CircularDelegationError struct {
	Target string
	Path   []string
}

func (e *CircularDelegationError) Error() string {
	return fmt.Sprintf("swarmsdk: circular delegation: %s already on path %v", e.Target, e.Path)
}

// OrphanRecoveryError wraps a provider error that points at unanswered tool
// calls when pruning them from the session's history found nothing to
// remove, so the request could not be retried.
type OrphanRecoveryError struct {
	Cause error
}

func (e *OrphanRecoveryError) Error() string {
	return "swarmsdk: orphan recovery failed: " + e.Cause.Error()
}

func (e *OrphanRecoveryError) Unwrap() error { return e.Cause }

// HookError wraps a panic or error raised by a hook handler. Hook failures
// are logged and treated as non-blocking rather than propagated to the
// agent loop, but this type gives the logged value a stable shape callers
// can match on with errors.As.
type HookError struct {
	Event string
	Cause error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("swarmsdk: hook %s failed: %v", e.Event, e.Cause)
}

func (e *HookError) Unwrap() error { return e.Cause }
