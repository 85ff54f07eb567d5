package commands

import (
	"context"
	"fmt"

	"mindmap/internal/application"
	"mindmap/internal/application/actions"
	"mindmap/internal/application/engine"
	"mindmap/internal/domain"
)

// DeleteCommand removes a node together with its subtree
type DeleteCommand struct {
	gen    Generator
	NodeID string
}

// NewDeleteCommand creates a new DeleteCommand
func NewDeleteCommand(gen Generator, nodeID string) *DeleteCommand {
	return &DeleteCommand{gen: gen.withDefaults(), NodeID: nodeID}
}

// Validate checks that the node exists and is not the root
func (c *DeleteCommand) Validate(s *domain.EditorState) error {
	n, err := resolveNode(s, "nodeId", c.NodeID)
	if err != nil {
		return err
	}
	if n.IsRoot() {
		return &application.StructuralError{
			NodeID: n.ShortID,
			Reason: "the root cannot be deleted",
			Err:    application.ErrRootOperation,
		}
	}
	return nil
}

// Actions removes the descendants leaves-first, then the node, closes the
// gap among its siblings and selects the next sibling, else the previous
// one, else the parent.
func (c *DeleteCommand) Actions(s *domain.EditorState) ([]actions.Action, error) {
	if err := c.Validate(s); err != nil {
		return nil, err
	}
	n, _ := resolveNode(s, "nodeId", c.NodeID)
	nodes := s.Nodes()

	var batch []actions.Action
	for _, d := range domain.Descendants(nodes, n.ShortID) {
		batch = append(batch, &actions.RemoveNode{Node: d})
	}
	batch = append(batch, &actions.RemoveNode{Node: n})

	siblings := s.Children(n.ParentShortID)
	pos := indexOf(siblings, n.ShortID)
	remaining := without(siblings, n.ShortID)
	batch = append(batch, layout{n.ParentShortID: remaining}.apply(s, c.gen.Now())...)

	next := n.ParentShortID
	switch {
	case pos < len(remaining):
		next = remaining[pos].ShortID
	case pos > 0:
		next = remaining[pos-1].ShortID
	}
	batch = append(batch, selectNode(s, next)...)
	return batch, nil
}

// Count returns how many nodes the command would remove
func (c *DeleteCommand) Count(s *domain.EditorState) int {
	n, err := resolveNode(s, "nodeId", c.NodeID)
	if err != nil {
		return 0
	}
	return len(domain.Descendants(s.Nodes(), n.ShortID)) + 1
}

func deleteDefinition(gen Generator) *engine.Definition {
	return &engine.Definition{
		ID:          "node.delete",
		Category:    engine.CategoryNode,
		Description: "Delete a node and its subtree",
		ActionBased: true,
		Undoable:    true,
		Params:      []application.ParamSpec{nodeIDParam},
		Describe: func(s *domain.EditorState, p application.Params) string {
			cmd := NewDeleteCommand(gen, p.String("nodeId"))
			n, _ := targetExists(s, p)
			if count := cmd.Count(s); count > 1 {
				return fmt.Sprintf("Delete %s and %d descendants", label(s, n.ShortID), count-1)
			}
			return fmt.Sprintf("Delete %s", label(s, n.ShortID))
		},
		Handler: func(_ context.Context, s *domain.EditorState, p application.Params) ([]actions.Action, error) {
			return NewDeleteCommand(gen, p.String("nodeId")).Actions(s)
		},
	}
}
