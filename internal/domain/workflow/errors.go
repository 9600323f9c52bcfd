package workflow

import "errors"

var (
	// ErrInvalidTransition is returned when a state transition is not allowed
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrInvalidState is returned when a state is not valid
	ErrInvalidState = errors.New("invalid state")

	// ErrGuardFailed is returned when a guard condition fails
	ErrGuardFailed = errors.New("guard condition failed")

	// ErrPolicyViolation is returned when a role policy grants an edge
	// that does not exist in the master graph
	ErrPolicyViolation = errors.New("policy grants transition outside master graph")
)
