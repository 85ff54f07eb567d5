package commands

import (
	"context"
	"fmt"
	"strings"

	"mindmap/internal/application"
	"mindmap/internal/application/actions"
	"mindmap/internal/application/engine"
	"mindmap/internal/domain"
)

// UpdateCommand changes a node's title and/or note
type UpdateCommand struct {
	gen    Generator
	NodeID string
	Title  *string
	Note   *string
}

// NewUpdateCommand creates a new UpdateCommand. Nil fields are left as they are.
func NewUpdateCommand(gen Generator, nodeID string, title, note *string) *UpdateCommand {
	return &UpdateCommand{gen: gen.withDefaults(), NodeID: nodeID, Title: title, Note: note}
}

// Validate checks that something is being changed and the node exists
func (c *UpdateCommand) Validate(s *domain.EditorState) error {
	if c.Title == nil && c.Note == nil {
		return &application.ValidationError{
			Field:   "title",
			Message: "title or note is required",
		}
	}
	_, err := resolveNode(s, "nodeId", c.NodeID)
	return err
}

// Actions returns a single UpdateNode, or nothing when the values are
// unchanged
func (c *UpdateCommand) Actions(s *domain.EditorState) ([]actions.Action, error) {
	if err := c.Validate(s); err != nil {
		return nil, err
	}
	before, _ := resolveNode(s, "nodeId", c.NodeID)

	after := before
	if c.Title != nil {
		after.Title = strings.TrimSpace(*c.Title)
	}
	if c.Note != nil {
		after.Note = *c.Note
	}
	if after == before {
		return nil, nil
	}
	after.UpdatedAt = c.gen.Now()
	return []actions.Action{&actions.UpdateNode{Before: before, After: after}}, nil
}

func optional(p application.Params, name string) *string {
	if !p.Has(name) {
		return nil
	}
	v := p.String(name)
	return &v
}

func updateDefinition(gen Generator) *engine.Definition {
	return &engine.Definition{
		ID:          "node.update",
		Category:    engine.CategoryNode,
		Description: "Edit a node's title or note",
		ActionBased: true,
		Undoable:    true,
		Params:      []application.ParamSpec{nodeIDParam, titleParam, noteParam},
		Describe: func(s *domain.EditorState, p application.Params) string {
			n, _ := targetExists(s, p)
			if p.Has("title") && !p.Has("note") {
				return fmt.Sprintf("Rename %s", label(s, n.ShortID))
			}
			return fmt.Sprintf("Edit %s", label(s, n.ShortID))
		},
		Handler: func(_ context.Context, s *domain.EditorState, p application.Params) ([]actions.Action, error) {
			return NewUpdateCommand(gen, p.String("nodeId"), optional(p, "title"), optional(p, "note")).Actions(s)
		},
	}
}
