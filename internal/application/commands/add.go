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

// AddChildCommand inserts a new node under a parent
type AddChildCommand struct {
	gen      Generator
	ParentID string
	Title    string
	Note     string
	Index    int // Position among the parent's children, negative appends
}

// NewAddChildCommand creates a new AddChildCommand
func NewAddChildCommand(gen Generator, parentID, title, note string, index int) *AddChildCommand {
	return &AddChildCommand{
		gen:      gen.withDefaults(),
		ParentID: parentID,
		Title:    title,
		Note:     note,
		Index:    index,
	}
}

// Validate checks that the parent exists
func (c *AddChildCommand) Validate(s *domain.EditorState) error {
	_, err := resolveNode(s, "parentId", c.ParentID)
	return err
}

// Actions builds the insertion batch: the new node, the renumbering of the
// siblings after it, expanding a collapsed parent and selecting the new node.
func (c *AddChildCommand) Actions(s *domain.EditorState) ([]actions.Action, error) {
	parent, err := resolveNode(s, "parentId", c.ParentID)
	if err != nil {
		return nil, err
	}

	siblings := s.Children(parent.ShortID)
	index := len(siblings)
	if c.Index >= 0 {
		index = clamp(c.Index, 0, len(siblings))
	}

	now := c.gen.Now()
	node := domain.Node{
		ID:            c.gen.ID(),
		ShortID:       c.gen.ShortID(),
		MindmapID:     s.MindmapID(),
		ParentShortID: parent.ShortID,
		OrderIndex:    index,
		Title:         strings.TrimSpace(c.Title),
		Note:          c.Note,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	batch := []actions.Action{&actions.AddNode{Node: node}}
	batch = append(batch, layout{parent.ShortID: insertAt(siblings, index, node)}.apply(s, now)...)
	if s.IsCollapsed(parent.ShortID) {
		batch = append(batch, &actions.SetCollapsed{ShortID: parent.ShortID, Collapsed: false, Was: true})
	}
	batch = append(batch, selectNode(s, node.ShortID)...)
	return batch, nil
}

// AddSiblingCommand inserts a new node right after an existing one
type AddSiblingCommand struct {
	gen    Generator
	NodeID string
	Title  string
	Note   string
}

// NewAddSiblingCommand creates a new AddSiblingCommand
func NewAddSiblingCommand(gen Generator, nodeID, title, note string) *AddSiblingCommand {
	return &AddSiblingCommand{gen: gen.withDefaults(), NodeID: nodeID, Title: title, Note: note}
}

// Validate checks that the node exists and is not the root
func (c *AddSiblingCommand) Validate(s *domain.EditorState) error {
	n, err := resolveNode(s, "nodeId", c.NodeID)
	if err != nil {
		return err
	}
	if n.IsRoot() {
		return &application.StructuralError{
			NodeID: n.ShortID,
			Reason: "the root cannot have siblings",
			Err:    application.ErrRootOperation,
		}
	}
	return nil
}

// Actions delegates to an AddChildCommand on the node's parent
func (c *AddSiblingCommand) Actions(s *domain.EditorState) ([]actions.Action, error) {
	if err := c.Validate(s); err != nil {
		return nil, err
	}
	n, _ := resolveNode(s, "nodeId", c.NodeID)
	return NewAddChildCommand(c.gen, n.ParentShortID, c.Title, c.Note, n.OrderIndex+1).Actions(s)
}

func addChildDefinition(gen Generator) *engine.Definition {
	return &engine.Definition{
		ID:          "node.add_child",
		Category:    engine.CategoryNode,
		Description: "Add a child node",
		ActionBased: true,
		Undoable:    true,
		Params: []application.ParamSpec{
			{Name: "parentId", Kind: application.ParamString, Description: "Parent short ID, defaults to the current node"},
			titleParam,
			noteParam,
			{Name: "index", Kind: application.ParamInt, Min: application.MinValue(0), Description: "Position among siblings, defaults to last"},
		},
		Describe: func(s *domain.EditorState, p application.Params) string {
			parent := p.String("parentId")
			if parent == "" {
				parent = s.CurrentNodeID()
			}
			return fmt.Sprintf("Add child to %s", label(s, parent))
		},
		Handler: func(_ context.Context, s *domain.EditorState, p application.Params) ([]actions.Action, error) {
			index, ok := p.Int("index")
			if !ok {
				index = -1
			}
			return NewAddChildCommand(gen, p.String("parentId"), p.String("title"), p.String("note"), index).Actions(s)
		},
	}
}

func addSiblingDefinition(gen Generator) *engine.Definition {
	return &engine.Definition{
		ID:          "node.add_sibling",
		Category:    engine.CategoryNode,
		Description: "Add a sibling after a node",
		ActionBased: true,
		Undoable:    true,
		Params:      []application.ParamSpec{nodeIDParam, titleParam, noteParam},
		Describe: func(s *domain.EditorState, p application.Params) string {
			n, _ := targetExists(s, p)
			return fmt.Sprintf("Add sibling after %s", label(s, n.ShortID))
		},
		Handler: func(_ context.Context, s *domain.EditorState, p application.Params) ([]actions.Action, error) {
			return NewAddSiblingCommand(gen, p.String("nodeId"), p.String("title"), p.String("note")).Actions(s)
		},
	}
}
