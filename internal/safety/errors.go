package safety

import "errors"

var (
	// ErrStateConflict is returned when an operator command's expected
	// state_hash does not match the live OperatorState (§7 OCC 409).
	ErrStateConflict = errors.New("safety: state_hash conflict")
	// ErrStaleLeaderTerm is returned when a write is attempted with a
	// leader_term older than the current term, indicating a demoted
	// leader is still trying to act (split-brain).
	ErrStaleLeaderTerm = errors.New("safety: stale leader term rejected")
	// ErrBreakerOpen is returned by a tripped circuit breaker.
	ErrBreakerOpen = errors.New("safety: circuit breaker open")
)
