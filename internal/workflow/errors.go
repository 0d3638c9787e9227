package workflow

import (
	"errors"
	"fmt"
)

// Kind tags every failure the engine reports to its caller.
type Kind int

const (
	KindNotFound Kind = iota + 1
	KindInvalidSequence
	KindDependenciesPending
	KindAlreadyAttached
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInvalidSequence:
		return "invalid_sequence"
	case KindDependenciesPending:
		return "dependencies_pending"
	case KindAlreadyAttached:
		return "already_attached"
	case KindValidation:
		return "validation_error"
	default:
		return "unknown"
	}
}

// Error is the typed failure returned by engine operations. Storage errors are
// never wrapped in it; they reach the caller unchanged.
type Error struct {
	Kind    Kind
	Message string
	// Expected is the milestone id the sequencer would have accepted. Only set
	// for KindInvalidSequence.
	Expected int
	// Pending lists uncleared dependency ids. Only set for
	// KindDependenciesPending.
	Pending []int
}

func (e *Error) Error() string {
	return e.Message
}

// Is lets errors.Is match on kind alone: errors.Is(err, &Error{Kind: KindNotFound}).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf extracts the kind of an engine error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

func notFound(format string, args ...interface{}) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func invalidSequence(expected int) *Error {
	return &Error{
		Kind:     KindInvalidSequence,
		Message:  fmt.Sprintf("Invalid milestone sequence. Expected milestone %d", expected),
		Expected: expected,
	}
}

func dependenciesPending(milestoneID int, pending []int) *Error {
	return &Error{
		Kind:    KindDependenciesPending,
		Message: fmt.Sprintf("You must clear all dependencies before adding milestone %d", milestoneID),
		Pending: pending,
	}
}

func alreadyAttached(dependencyID int) *Error {
	return &Error{
		Kind:    KindAlreadyAttached,
		Message: fmt.Sprintf("Dependency %d is already added to the project", dependencyID),
	}
}

func validation(format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}
