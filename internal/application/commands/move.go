package commands

import (
	"context"
	"fmt"

	"mindmap/internal/application"
	"mindmap/internal/application/actions"
	"mindmap/internal/application/engine"
	"mindmap/internal/domain"
)

// MoveCommand re-parents a node, optionally at a given position
type MoveCommand struct {
	gen      Generator
	NodeID   string
	ParentID string
	Index    int // Position among the new siblings, negative appends
}

// NewMoveCommand creates a new MoveCommand
func NewMoveCommand(gen Generator, nodeID, parentID string, index int) *MoveCommand {
	return &MoveCommand{gen: gen.withDefaults(), NodeID: nodeID, ParentID: parentID, Index: index}
}

// Validate checks that both nodes exist, that the root stays in place and
// that the node is not moved into its own subtree
func (c *MoveCommand) Validate(s *domain.EditorState) error {
	if err := application.ValidateRequired("nodeId", c.NodeID); err != nil {
		return err
	}
	if err := application.ValidateRequired("parentId", c.ParentID); err != nil {
		return err
	}

	n, ok := s.Node(c.NodeID)
	if !ok {
		return application.NotFound("nodeId", c.NodeID)
	}
	if _, ok := s.Node(c.ParentID); !ok {
		return application.NotFound("parentId", c.ParentID)
	}

	if n.IsRoot() {
		return &application.MoveError{
			SourceID: c.NodeID,
			DestID:   c.ParentID,
			Reason:   "the root cannot be moved",
			Err:      application.ErrRootOperation,
		}
	}
	if domain.WouldCreateCycle(s.Nodes(), c.NodeID, c.ParentID) {
		return &application.MoveError{
			SourceID: c.NodeID,
			DestID:   c.ParentID,
			Reason:   "destination is inside the moved subtree",
			Err:      application.ErrCycle,
		}
	}
	return nil
}

// Actions builds the move: one UpdateNode for the moved node plus the
// renumbering of both sibling sets. An unchanged position yields no actions.
func (c *MoveCommand) Actions(s *domain.EditorState) ([]actions.Action, error) {
	if err := c.Validate(s); err != nil {
		return nil, err
	}
	n, _ := s.Node(c.NodeID)

	dest := without(s.Children(c.ParentID), n.ShortID)
	index := len(dest)
	if c.Index >= 0 {
		index = clamp(c.Index, 0, len(dest))
	}

	l := layout{c.ParentID: insertAt(dest, index, n)}
	if n.ParentShortID != c.ParentID {
		l[n.ParentShortID] = without(s.Children(n.ParentShortID), n.ShortID)
	}

	batch := l.apply(s, c.gen.Now())
	if len(batch) == 0 {
		return nil, nil
	}
	if s.IsCollapsed(c.ParentID) {
		batch = append(batch, &actions.SetCollapsed{ShortID: c.ParentID, Collapsed: false, Was: true})
	}
	return batch, nil
}

// NewReorderCommand moves a node to a position among its current siblings
func NewReorderCommand(gen Generator, s *domain.EditorState, nodeID string, index int) (*MoveCommand, error) {
	n, err := resolveNode(s, "nodeId", nodeID)
	if err != nil {
		return nil, err
	}
	if n.IsRoot() {
		return nil, &application.MoveError{
			SourceID: n.ShortID,
			Reason:   "the root has no siblings",
			Err:      application.ErrRootOperation,
		}
	}
	return NewMoveCommand(gen, n.ShortID, n.ParentShortID, index), nil
}

// siblingPosition returns the node's position and the number of its siblings
func siblingPosition(s *domain.EditorState, n domain.Node) (int, int) {
	siblings := s.Children(n.ParentShortID)
	return indexOf(siblings, n.ShortID), len(siblings)
}

func moveDefinition(gen Generator) *engine.Definition {
	return &engine.Definition{
		ID:          "node.move",
		Category:    engine.CategoryNode,
		Description: "Move a node under a new parent",
		ActionBased: true,
		Undoable:    true,
		Params: []application.ParamSpec{
			{Name: "nodeId", Kind: application.ParamString, Required: true, Description: "Short ID of the node to move"},
			{Name: "parentId", Kind: application.ParamString, Required: true, Description: "Short ID of the new parent"},
			{Name: "index", Kind: application.ParamInt, Min: application.MinValue(0), Description: "Position among the new siblings, defaults to last"},
		},
		Describe: func(s *domain.EditorState, p application.Params) string {
			return fmt.Sprintf("Move %s under %s", label(s, p.String("nodeId")), label(s, p.String("parentId")))
		},
		Handler: func(_ context.Context, s *domain.EditorState, p application.Params) ([]actions.Action, error) {
			index, ok := p.Int("index")
			if !ok {
				index = -1
			}
			return NewMoveCommand(gen, p.String("nodeId"), p.String("parentId"), index).Actions(s)
		},
	}
}

func reorderDefinition(gen Generator) *engine.Definition {
	return &engine.Definition{
		ID:          "node.reorder",
		Category:    engine.CategoryNode,
		Description: "Change a node's position among its siblings",
		ActionBased: true,
		Undoable:    true,
		Params: []application.ParamSpec{
			nodeIDParam,
			{Name: "index", Kind: application.ParamInt, Required: true, Min: application.MinValue(0), Description: "New position among siblings"},
		},
		Describe: func(s *domain.EditorState, p application.Params) string {
			n, _ := targetExists(s, p)
			index, _ := p.Int("index")
			return fmt.Sprintf("Reorder %s to position %d", label(s, n.ShortID), index)
		},
		Handler: func(_ context.Context, s *domain.EditorState, p application.Params) ([]actions.Action, error) {
			index, _ := p.Int("index")
			cmd, err := NewReorderCommand(gen, s, p.String("nodeId"), index)
			if err != nil {
				return nil, err
			}
			return cmd.Actions(s)
		},
	}
}

func moveUpDefinition(gen Generator) *engine.Definition {
	return stepDefinition(gen, "node.move_up", "Move a node before its previous sibling", -1)
}

func moveDownDefinition(gen Generator) *engine.Definition {
	return stepDefinition(gen, "node.move_down", "Move a node after its next sibling", 1)
}

// stepDefinition swaps a node with a neighbour. The command is a no-op at
// either end of the sibling list.
func stepDefinition(gen Generator, id, description string, delta int) *engine.Definition {
	return &engine.Definition{
		ID:          id,
		Category:    engine.CategoryNode,
		Description: description,
		ActionBased: true,
		Undoable:    true,
		Params:      []application.ParamSpec{nodeIDParam},
		When: func(s *domain.EditorState, p application.Params) bool {
			n, ok := targetExists(s, p)
			if !ok {
				return true
			}
			if n.IsRoot() {
				return false
			}
			pos, count := siblingPosition(s, n)
			next := pos + delta
			return next >= 0 && next < count
		},
		Describe: func(s *domain.EditorState, p application.Params) string {
			n, _ := targetExists(s, p)
			if delta < 0 {
				return fmt.Sprintf("Move %s up", label(s, n.ShortID))
			}
			return fmt.Sprintf("Move %s down", label(s, n.ShortID))
		},
		Handler: func(_ context.Context, s *domain.EditorState, p application.Params) ([]actions.Action, error) {
			n, err := resolveNode(s, "nodeId", p.String("nodeId"))
			if err != nil {
				return nil, err
			}
			pos, _ := siblingPosition(s, n)
			cmd, err := NewReorderCommand(gen, s, n.ShortID, pos+delta)
			if err != nil {
				return nil, err
			}
			return cmd.Actions(s)
		},
	}
}
