package application

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common conditions
var (
	ErrNotFound         = errors.New("not found")
	ErrUnknownCommand   = errors.New("unknown command")
	ErrInvalidOperation = errors.New("invalid operation")
	ErrCycle            = errors.New("move would create a cycle")
	ErrRootOperation    = errors.New("operation not allowed on the root node")
	ErrPersistence      = errors.New("storage write failed")
	ErrConflict         = errors.New("remote document changed since last sync")
	ErrSaveInProgress   = errors.New("save already in progress")
	ErrCompositeStep    = errors.New("invalid composite step")
)

// ValidationError represents a validation failure with details
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// StructuralError is raised by a handler before any action is built when
// a command would break the tree invariants
type StructuralError struct {
	NodeID string
	Reason string
	Err    error
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("cannot modify %s: %s", e.NodeID, e.Reason)
}

func (e *StructuralError) Unwrap() error {
	return e.Err
}

// MoveError represents a move-related failure
type MoveError struct {
	SourceID string
	DestID   string
	Reason   string
	Err      error
}

func (e *MoveError) Error() string {
	return fmt.Sprintf("cannot move %s to %s: %s", e.SourceID, e.DestID, e.Reason)
}

func (e *MoveError) Unwrap() error {
	return e.Err
}

// PersistenceError reports a batch whose storage write failed.
// The in-memory state keeps the change; only its durability is deferred.
type PersistenceError struct {
	CommandID string
	Err       error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: changes kept in memory but not stored: %v", e.CommandID, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}

// ConflictError is raised by a save when the remote replica changed since
// the local replica last synchronised. It is meant to be routed to a human.
type ConflictError struct {
	MindmapID     string
	LocalVersion  time.Time // Remote timestamp the local replica last synced against
	ServerVersion time.Time // Current remote timestamp
	DirtyCount    int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s: local copy synced at %s, remote now at %s (%d unsaved changes)",
		e.MindmapID,
		e.LocalVersion.Format(time.RFC3339Nano),
		e.ServerVersion.Format(time.RFC3339Nano),
		e.DirtyCount)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// NotFound builds a StructuralError for a node that does not exist
func NotFound(field, nodeID string) error {
	return &StructuralError{
		NodeID: nodeID,
		Reason: fmt.Sprintf("%s does not exist", field),
		Err:    ErrNotFound,
	}
}
