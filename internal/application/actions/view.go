package actions

import (
	"context"

	"mindmap/internal/domain"
	"mindmap/internal/ports"
)

// SetCurrentNode moves the selection. It only touches in-memory state.
type SetCurrentNode struct {
	From string
	To   string
}

var _ Action = (*SetCurrentNode)(nil)

func (a *SetCurrentNode) Kind() Kind       { return KindSetCurrentNode }
func (a *SetCurrentNode) Persistent() bool { return false }

func (a *SetCurrentNode) ApplyToState(d *domain.Draft) {
	d.SetCurrentNode(a.To)
}

func (a *SetCurrentNode) ApplyToStorage(context.Context, ports.StoreTx) error { return nil }

func (a *SetCurrentNode) Reverse() Action {
	return &SetCurrentNode{From: a.To, To: a.From}
}

// SetCollapsed hides or shows a node's children. Collapse state is UI only
// and never leaves the process.
type SetCollapsed struct {
	ShortID   string
	Collapsed bool
	Was       bool
}

var _ Action = (*SetCollapsed)(nil)

func (a *SetCollapsed) Kind() Kind       { return KindSetCollapsed }
func (a *SetCollapsed) Persistent() bool { return false }

func (a *SetCollapsed) ApplyToState(d *domain.Draft) {
	d.SetCollapsed(a.ShortID, a.Collapsed)
}

func (a *SetCollapsed) ApplyToStorage(context.Context, ports.StoreTx) error { return nil }

func (a *SetCollapsed) Reverse() Action {
	return &SetCollapsed{ShortID: a.ShortID, Collapsed: a.Was, Was: a.Collapsed}
}
