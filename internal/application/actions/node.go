package actions

import (
	"context"
	"fmt"
	"time"

	"mindmap/internal/domain"
	"mindmap/internal/ports"
)

// now is the clock used for local modification stamps
var now = func() time.Time { return time.Now().UTC() }

// AddNode inserts a node. Storage is an upsert that also clears a tombstone.
type AddNode struct {
	Node domain.Node
}

var _ Action = (*AddNode)(nil)

func (a *AddNode) Kind() Kind       { return KindAddNode }
func (a *AddNode) Persistent() bool { return true }

func (a *AddNode) ApplyToState(d *domain.Draft) {
	d.PutNode(a.Node)
	d.SetSaved(false)
}

func (a *AddNode) ApplyToStorage(ctx context.Context, tx ports.StoreTx) error {
	err := tx.UpsertRecord(&domain.Record{
		Node:            a.Node,
		Dirty:           true,
		LocalModifiedAt: now(),
	})
	if err != nil {
		return fmt.Errorf("failed to store node %s: %w", a.Node.ShortID, err)
	}
	return nil
}

func (a *AddNode) Reverse() Action {
	return &RemoveNode{Node: a.Node}
}

// RemoveNode deletes a node. Node carries the full value captured before
// removal so the action can be reversed. Storage keeps a tombstone until the
// remote acknowledges the deletion.
type RemoveNode struct {
	Node domain.Node
}

var _ Action = (*RemoveNode)(nil)

func (a *RemoveNode) Kind() Kind       { return KindRemoveNode }
func (a *RemoveNode) Persistent() bool { return true }

func (a *RemoveNode) ApplyToState(d *domain.Draft) {
	d.DeleteNode(a.Node.ShortID)
	d.SetSaved(false)
}

func (a *RemoveNode) ApplyToStorage(ctx context.Context, tx ports.StoreTx) error {
	if err := tx.MarkDeleted(a.Node.MindmapID, a.Node.ShortID, now()); err != nil {
		return fmt.Errorf("failed to tombstone node %s: %w", a.Node.ShortID, err)
	}
	return nil
}

func (a *RemoveNode) Reverse() Action {
	return &AddNode{Node: a.Node}
}

// UpdateNode replaces a node's fields. Before is the value prior to the update.
type UpdateNode struct {
	Before domain.Node
	After  domain.Node
}

var _ Action = (*UpdateNode)(nil)

func (a *UpdateNode) Kind() Kind       { return KindUpdateNode }
func (a *UpdateNode) Persistent() bool { return true }

func (a *UpdateNode) ApplyToState(d *domain.Draft) {
	if _, ok := d.Node(a.After.ShortID); !ok {
		return
	}
	d.PutNode(a.After)
	d.SetSaved(false)
}

func (a *UpdateNode) ApplyToStorage(ctx context.Context, tx ports.StoreTx) error {
	err := tx.UpsertRecord(&domain.Record{
		Node:            a.After,
		Dirty:           true,
		LocalModifiedAt: now(),
	})
	if err != nil {
		return fmt.Errorf("failed to update node %s: %w", a.After.ShortID, err)
	}
	return nil
}

func (a *UpdateNode) Reverse() Action {
	return &UpdateNode{Before: a.After, After: a.Before}
}
