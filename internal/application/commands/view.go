package commands

import (
	"context"

	"mindmap/internal/application"
	"mindmap/internal/application/actions"
	"mindmap/internal/application/engine"
	"mindmap/internal/domain"
)

// View commands only touch selection and collapse state. They are never
// recorded in history and never reach storage.

func selectDefinition() *engine.Definition {
	return &engine.Definition{
		ID:          "view.select",
		Category:    engine.CategoryView,
		Description: "Select a node",
		ActionBased: true,
		Params: []application.ParamSpec{
			{Name: "nodeId", Kind: application.ParamString, Required: true, Description: "Short ID of the node to select"},
		},
		Handler: func(_ context.Context, s *domain.EditorState, p application.Params) ([]actions.Action, error) {
			n, err := resolveNode(s, "nodeId", p.String("nodeId"))
			if err != nil {
				return nil, err
			}
			return selectNode(s, n.ShortID), nil
		},
	}
}

func selectParentDefinition() *engine.Definition {
	return &engine.Definition{
		ID:          "view.select_parent",
		Category:    engine.CategoryView,
		Description: "Select the parent of the current node",
		ActionBased: true,
		When: func(s *domain.EditorState, _ application.Params) bool {
			n, ok := s.Node(s.CurrentNodeID())
			return ok && !n.IsRoot()
		},
		Handler: func(_ context.Context, s *domain.EditorState, _ application.Params) ([]actions.Action, error) {
			n, _ := s.Node(s.CurrentNodeID())
			return selectNode(s, n.ParentShortID), nil
		},
	}
}

func selectFirstChildDefinition() *engine.Definition {
	return &engine.Definition{
		ID:          "view.select_first_child",
		Category:    engine.CategoryView,
		Description: "Select the first child of the current node",
		ActionBased: true,
		When: func(s *domain.EditorState, _ application.Params) bool {
			return len(s.Children(s.CurrentNodeID())) > 0
		},
		Handler: func(_ context.Context, s *domain.EditorState, _ application.Params) ([]actions.Action, error) {
			first := s.Children(s.CurrentNodeID())[0]
			batch := selectNode(s, first.ShortID)
			if s.IsCollapsed(s.CurrentNodeID()) {
				batch = append(batch, &actions.SetCollapsed{ShortID: s.CurrentNodeID(), Collapsed: false, Was: true})
			}
			return batch, nil
		},
	}
}

func collapseDefinition() *engine.Definition {
	return collapseCommand("view.collapse", "Hide a node's children", func(bool) bool { return true })
}

func expandDefinition() *engine.Definition {
	return collapseCommand("view.expand", "Show a node's children", func(bool) bool { return false })
}

func toggleCollapseDefinition() *engine.Definition {
	return collapseCommand("view.toggle_collapse", "Toggle a node's children", func(was bool) bool { return !was })
}

// collapseCommand builds a view command that sets a node's collapse flag to
// next(current). Leaves and unchanged flags make it a no-op.
func collapseCommand(id, description string, next func(bool) bool) *engine.Definition {
	return &engine.Definition{
		ID:          id,
		Category:    engine.CategoryView,
		Description: description,
		ActionBased: true,
		Params:      []application.ParamSpec{nodeIDParam},
		When: func(s *domain.EditorState, p application.Params) bool {
			n, ok := targetExists(s, p)
			if !ok {
				return true
			}
			was := s.IsCollapsed(n.ShortID)
			if next(was) == was {
				return false
			}
			// Expanding is always allowed so stale flags can be cleared
			return was || len(s.Children(n.ShortID)) > 0
		},
		Handler: func(_ context.Context, s *domain.EditorState, p application.Params) ([]actions.Action, error) {
			n, err := resolveNode(s, "nodeId", p.String("nodeId"))
			if err != nil {
				return nil, err
			}
			was := s.IsCollapsed(n.ShortID)
			return []actions.Action{&actions.SetCollapsed{ShortID: n.ShortID, Collapsed: next(was), Was: was}}, nil
		},
	}
}
