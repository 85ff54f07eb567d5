// Package actions holds the reversible mutation primitives applied by the engine.
package actions

import (
	"context"
	"fmt"

	"mindmap/internal/domain"
	"mindmap/internal/ports"
)

// Kind identifies the type of an action for dispatch and notification
type Kind uint8

const (
	KindUnknown Kind = iota
	KindAddNode
	KindRemoveNode
	KindUpdateNode
	KindSetCurrentNode
	KindSetCollapsed
	KindExtension // Actions defined outside this package; see Extension
)

// Kinds lists every known kind, extension included
func Kinds() []Kind {
	return []Kind{KindAddNode, KindRemoveNode, KindUpdateNode, KindSetCurrentNode, KindSetCollapsed, KindExtension}
}

func (k Kind) String() string {
	switch k {
	case KindAddNode:
		return "add_node"
	case KindRemoveNode:
		return "remove_node"
	case KindUpdateNode:
		return "update_node"
	case KindSetCurrentNode:
		return "set_current_node"
	case KindSetCollapsed:
		return "set_collapsed"
	case KindExtension:
		return "extension"
	default:
		return "unknown"
	}
}

// Action is the smallest reversible unit of mutation.
//
// ApplyToState must not fail on already-consistent input. ApplyToStorage
// persists the same change inside the batch transaction. Reverse returns an
// action that, applied after this one, restores the prior observable state.
type Action interface {
	Kind() Kind
	Persistent() bool
	ApplyToState(d *domain.Draft)
	ApplyToStorage(ctx context.Context, tx ports.StoreTx) error
	Reverse() Action
}

// Extension is implemented by actions of KindExtension so observers can
// tell them apart
type Extension interface {
	Action
	ExtensionName() string
}

// Describe returns a short human readable label for logs
func Describe(a Action) string {
	switch x := a.(type) {
	case *AddNode:
		return fmt.Sprintf("%s %s", x.Kind(), x.Node.ShortID)
	case *RemoveNode:
		return fmt.Sprintf("%s %s", x.Kind(), x.Node.ShortID)
	case *UpdateNode:
		return fmt.Sprintf("%s %s", x.Kind(), x.After.ShortID)
	case *SetCurrentNode:
		return fmt.Sprintf("%s %s", x.Kind(), x.To)
	case *SetCollapsed:
		return fmt.Sprintf("%s %s=%t", x.Kind(), x.ShortID, x.Collapsed)
	case Extension:
		return fmt.Sprintf("%s %s", x.Kind(), x.ExtensionName())
	default:
		return a.Kind().String()
	}
}

// ReverseAll returns the inverse of a batch: each action reversed, in
// reverse order
func ReverseAll(batch []Action) []Action {
	out := make([]Action, len(batch))
	for i, a := range batch {
		out[len(batch)-1-i] = a.Reverse()
	}
	return out
}

// HasPersistent reports whether any action in the batch touches storage
func HasPersistent(batch []Action) bool {
	for _, a := range batch {
		if a.Persistent() {
			return true
		}
	}
	return false
}
