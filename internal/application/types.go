package application

import "mindmap/internal/domain"

// Re-export domain types for use by adapters
type (
	Node        = domain.Node
	Record      = domain.Record
	Document    = domain.Document
	EditorState = domain.EditorState
)

// Resolution is the human choice offered after a save conflict
type Resolution string

const (
	ResolutionNone    Resolution = ""
	ResolutionForce   Resolution = "force"   // Upload anyway, last writer wins
	ResolutionDiscard Resolution = "discard" // Drop local changes and reload from remote
	ResolutionCancel  Resolution = "cancel"  // Leave the local replica dirty
)

// Resolutions lists the valid non-empty resolutions
func Resolutions() []string {
	return []string{string(ResolutionForce), string(ResolutionDiscard), string(ResolutionCancel)}
}
