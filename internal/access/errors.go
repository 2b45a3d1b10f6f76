// Package access - errors.go declares the sentinel errors returned by the role graph, the
// evaluator and the role lifecycle normalizer.
package access

import (
	"errors"
	"fmt"
)

var (
	// ErrDenied is returned when a principal is not allowed to perform an action.
	ErrDenied = errors.New("access denied")
	// ErrNotFound is returned when a referenced hierarchy node or role does not exist.
	ErrNotFound = errors.New("not found")
	// ErrMissingScope is returned when a role lacks the reference its kind requires.
	ErrMissingScope = errors.New("missing required scope")
	// ErrScopeConflict is returned when a role draft carries a scope reference its kind does not take.
	ErrScopeConflict = errors.New("conflicting scope reference")
	// ErrDuplicateRole is returned when an identical active role already exists.
	ErrDuplicateRole = errors.New("user role already exists")
	// ErrCycleDetected is returned when a parent walk exceeds the depth bound or revisits a node.
	ErrCycleDetected = errors.New("hierarchy cycle detected")
	// ErrInvalidKind is returned for role kinds outside the closed set.
	ErrInvalidKind = errors.New("invalid role kind")
	// ErrRoleEnded is returned when ending a role that has already ended.
	ErrRoleEnded = errors.New("role already ended")
)

// MissingScopeError names the reference a role kind requires but did not receive.
type MissingScopeError struct {
	Kind  RoleKind
	Field ScopeLevel
}

func (e *MissingScopeError) Error() string {
	return fmt.Sprintf("%s role requires a %s", e.Kind.DisplayName(), e.Field)
}

// Unwrap lets errors.Is match ErrMissingScope.
func (e *MissingScopeError) Unwrap() error {
	return ErrMissingScope
}

// ScopeConflictError names a reference a role kind does not accept. Only the
// kind's own scope and the organization and project it derives may be sent.
type ScopeConflictError struct {
	Kind  RoleKind
	Field ScopeLevel
}

func (e *ScopeConflictError) Error() string {
	return fmt.Sprintf("%s role does not take a %s", e.Kind.DisplayName(), e.Field)
}

// Unwrap lets errors.Is match ErrScopeConflict.
func (e *ScopeConflictError) Unwrap() error {
	return ErrScopeConflict
}

// notFound wraps ErrNotFound with the kind and id of the missing node.
func notFound(what string, id int64) error {
	return fmt.Errorf("%s %d: %w", what, id, ErrNotFound)
}
