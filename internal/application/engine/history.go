package engine

import (
	"context"

	"mindmap/internal/application/actions"
)

// HistoryItem is one undoable unit: the actions of a single dispatch
type HistoryItem struct {
	CommandID   string
	Description string
	Actions     []actions.Action
}

// Pending is the storage tail of an applied batch
type Pending interface {
	Wait(ctx context.Context) error
}

// Applier applies a batch to state and schedules its storage write
type Applier interface {
	apply(ctx context.Context, commandID string, batch []actions.Action) Pending
}

// History holds the undo and redo stacks. It is not safe for concurrent
// use; the engine serialises access.
type History struct {
	applier Applier
	limit   int
	undo    []HistoryItem
	redo    []HistoryItem
}

// NewHistory creates a history that keeps at most limit undo entries.
// A limit of zero or less keeps everything.
func NewHistory(applier Applier, limit int) *History {
	return &History{applier: applier, limit: limit}
}

// Execute applies the item, pushes it on the undo stack and discards the
// redo stack
func (h *History) Execute(ctx context.Context, item HistoryItem) Pending {
	p := h.applier.apply(ctx, item.CommandID, item.Actions)
	h.undo = append(h.undo, item)
	if h.limit > 0 && len(h.undo) > h.limit {
		h.undo = h.undo[len(h.undo)-h.limit:]
	}
	h.redo = nil
	return p
}

// Undo reverses the latest item and moves it to the redo stack.
// Returns false when there is nothing to undo.
func (h *History) Undo(ctx context.Context) (Pending, bool) {
	if len(h.undo) == 0 {
		return nil, false
	}
	item := h.undo[len(h.undo)-1]
	h.undo = h.undo[:len(h.undo)-1]

	p := h.applier.apply(ctx, item.CommandID, actions.ReverseAll(item.Actions))
	h.redo = append(h.redo, item)
	return p, true
}

// Redo re-applies the latest undone item and moves it back to the undo
// stack. Returns false when there is nothing to redo.
func (h *History) Redo(ctx context.Context) (Pending, bool) {
	if len(h.redo) == 0 {
		return nil, false
	}
	item := h.redo[len(h.redo)-1]
	h.redo = h.redo[:len(h.redo)-1]

	p := h.applier.apply(ctx, item.CommandID, item.Actions)
	h.undo = append(h.undo, item)
	return p, true
}

func (h *History) CanUndo() bool { return len(h.undo) > 0 }
func (h *History) CanRedo() bool { return len(h.redo) > 0 }

// UndoDescription returns the description of the item Undo would reverse
func (h *History) UndoDescription() string {
	if len(h.undo) == 0 {
		return ""
	}
	return h.undo[len(h.undo)-1].Description
}

// RedoDescription returns the description of the item Redo would replay
func (h *History) RedoDescription() string {
	if len(h.redo) == 0 {
		return ""
	}
	return h.redo[len(h.redo)-1].Description
}

// Clear empties both stacks
func (h *History) Clear() {
	h.undo = nil
	h.redo = nil
}
