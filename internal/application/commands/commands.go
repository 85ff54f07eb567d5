// Package commands holds the tree-editing and view commands of the editor.
// Each command validates against a state snapshot and turns into a batch of
// actions; Register wires them into an engine registry.
package commands

import (
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"mindmap/internal/application"
	"mindmap/internal/application/actions"
	"mindmap/internal/application/engine"
	"mindmap/internal/domain"
)

// Generator mints identifiers and timestamps for new nodes
type Generator struct {
	ShortID func() string
	ID      func() string
	Now     func() time.Time
}

// DefaultGenerator uses random UUIDs for short IDs and ULIDs for storage keys
func DefaultGenerator() Generator {
	return Generator{
		ShortID: uuid.NewString,
		ID:      func() string { return ulid.Make().String() },
		Now:     func() time.Time { return time.Now().UTC() },
	}
}

func (g Generator) withDefaults() Generator {
	d := DefaultGenerator()
	if g.ShortID == nil {
		g.ShortID = d.ShortID
	}
	if g.ID == nil {
		g.ID = d.ID
	}
	if g.Now == nil {
		g.Now = d.Now
	}
	return g
}

// Register adds every node and view command to the registry
func Register(reg *engine.Registry, gen Generator) error {
	gen = gen.withDefaults()
	return reg.Register(
		addChildDefinition(gen),
		addSiblingDefinition(gen),
		deleteDefinition(gen),
		moveDefinition(gen),
		reorderDefinition(gen),
		moveUpDefinition(gen),
		moveDownDefinition(gen),
		updateDefinition(gen),
		selectDefinition(),
		selectParentDefinition(),
		selectFirstChildDefinition(),
		collapseDefinition(),
		expandDefinition(),
		toggleCollapseDefinition(),
	)
}

// Parameter schema shared by several commands
var (
	nodeIDParam = application.ParamSpec{
		Name:        "nodeId",
		Kind:        application.ParamString,
		Description: "Short ID of the target node, defaults to the current node",
	}
	titleParam = application.ParamSpec{
		Name:        "title",
		Kind:        application.ParamString,
		Description: "Node title",
	}
	noteParam = application.ParamSpec{
		Name:        "note",
		Kind:        application.ParamString,
		Description: "Free-form note",
	}
)

// resolveNode returns the node named by id, or the current node when id is
// empty
func resolveNode(s *domain.EditorState, field, id string) (domain.Node, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		id = s.CurrentNodeID()
	}
	if id == "" {
		return domain.Node{}, &application.ValidationError{
			Field:   field,
			Message: "no node given and no node is selected",
		}
	}
	n, ok := s.Node(id)
	if !ok {
		return domain.Node{}, application.NotFound(field, id)
	}
	return n, nil
}

// targetExists is a When helper: it lets the handler report missing nodes
// instead of turning them into silent no-ops
func targetExists(s *domain.EditorState, p application.Params) (domain.Node, bool) {
	n, err := resolveNode(s, "nodeId", p.String("nodeId"))
	return n, err == nil
}

// layout is the desired child order of one or more parents
type layout map[string][]domain.Node

// apply emits an UpdateNode for every listed node whose parent or position
// differs from the snapshot. Nodes are compared against s, not against the
// list entries, so callers may pass nodes that were already modified.
func (l layout) apply(s *domain.EditorState, now time.Time) []actions.Action {
	var out []actions.Action
	parents := make([]string, 0, len(l))
	for p := range l {
		parents = append(parents, p)
	}
	slices.Sort(parents)

	for _, parent := range parents {
		for i, n := range l[parent] {
			before, ok := s.Node(n.ShortID)
			if !ok {
				continue
			}
			after := n
			after.ParentShortID = parent
			after.OrderIndex = i
			if after == before {
				continue
			}
			after.UpdatedAt = now
			out = append(out, &actions.UpdateNode{Before: before, After: after})
		}
	}
	return out
}

// without returns siblings minus the node with the given short ID
func without(siblings []domain.Node, shortID string) []domain.Node {
	out := make([]domain.Node, 0, len(siblings))
	for _, n := range siblings {
		if n.ShortID != shortID {
			out = append(out, n)
		}
	}
	return out
}

// insertAt places n at index, clamped to the slice bounds
func insertAt(siblings []domain.Node, index int, n domain.Node) []domain.Node {
	index = clamp(index, 0, len(siblings))
	out := make([]domain.Node, 0, len(siblings)+1)
	out = append(out, siblings[:index]...)
	out = append(out, n)
	return append(out, siblings[index:]...)
}

func indexOf(siblings []domain.Node, shortID string) int {
	for i, n := range siblings {
		if n.ShortID == shortID {
			return i
		}
	}
	return -1
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

func selectNode(s *domain.EditorState, to string) []actions.Action {
	if s.CurrentNodeID() == to {
		return nil
	}
	return []actions.Action{&actions.SetCurrentNode{From: s.CurrentNodeID(), To: to}}
}

// label returns a short human label for a node
func label(s *domain.EditorState, shortID string) string {
	n, ok := s.Node(shortID)
	if !ok {
		return shortID
	}
	if t := strings.TrimSpace(n.Title); t != "" {
		return "\"" + t + "\""
	}
	return "untitled node"
}
