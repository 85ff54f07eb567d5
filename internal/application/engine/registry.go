// Package engine executes commands against an open mindmap: it validates and
// dispatches them, records undo history, applies action batches to memory and
// storage, and notifies subscribers.
package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"mindmap/internal/application"
	"mindmap/internal/application/actions"
	"mindmap/internal/domain"
)

// Category groups commands for listings
type Category string

const (
	CategoryNode      Category = "node"
	CategoryView      Category = "view"
	CategoryDocument  Category = "document"
	CategoryComposite Category = "composite"
)

// WhenFunc is a command precondition. A false result makes dispatch a no-op.
type WhenFunc func(s *domain.EditorState, p application.Params) bool

// HandlerFunc builds the actions of a command. Handlers that are not action
// based perform their own effects and return nil.
type HandlerFunc func(ctx context.Context, s *domain.EditorState, p application.Params) ([]actions.Action, error)

// DescribeFunc labels a dispatch for undo/redo affordances
type DescribeFunc func(s *domain.EditorState, p application.Params) string

// Definition declares a command
type Definition struct {
	ID          string
	Category    Category
	Description string
	Params      []application.ParamSpec
	ActionBased bool
	Undoable    bool
	When        WhenFunc
	Handler     HandlerFunc
	Describe    DescribeFunc
}

// Validate checks that the definition is complete
func (d *Definition) Validate() error {
	if d.ID == "" {
		return &application.ValidationError{Field: "id", Message: "command ID is required"}
	}
	if d.Handler == nil {
		return &application.ValidationError{Field: "handler", Message: fmt.Sprintf("command %s has no handler", d.ID)}
	}
	if d.Undoable && !d.ActionBased {
		return &application.ValidationError{Field: "undoable", Message: fmt.Sprintf("command %s is undoable but not action based", d.ID)}
	}
	return nil
}

func (d *Definition) describe(s *domain.EditorState, p application.Params) string {
	if d.Describe != nil {
		return d.Describe(s, p)
	}
	if d.Description != "" {
		return d.Description
	}
	return d.ID
}

// Registry maps command IDs to definitions. It is owned by one engine.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]*Definition
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{defs: map[string]*Definition{}}
}

// Register adds definitions. Re-registering an ID is an error.
func (r *Registry) Register(defs ...*Definition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, d := range defs {
		if err := d.Validate(); err != nil {
			return err
		}
		if _, exists := r.defs[d.ID]; exists {
			return fmt.Errorf("%w: command %s already registered", application.ErrInvalidOperation, d.ID)
		}
		r.defs[d.ID] = d
	}
	return nil
}

// Lookup returns the definition for an ID
func (r *Registry) Lookup(id string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.defs[id]
	return d, ok
}

// List returns every definition sorted by ID
func (r *Registry) List() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Definition, 0, len(r.defs))
	for _, d := range r.defs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Step is one sub-command of a composite
type Step struct {
	CommandID string
	Params    application.Params
}

// Composite builds a command whose actions are the concatenation of its
// steps' actions, recorded as a single history entry. Each step sees the
// state produced by the steps before it. Steps must name action-based,
// undoable commands; a step whose precondition fails aborts the composite.
func (r *Registry) Composite(id, description string, steps ...Step) (*Definition, error) {
	if len(steps) == 0 {
		return nil, &application.ValidationError{Field: "steps", Message: "composite needs at least one step"}
	}

	defs := make([]*Definition, len(steps))
	for i, step := range steps {
		def, ok := r.Lookup(step.CommandID)
		if !ok {
			return nil, fmt.Errorf("%w: step %d: %s", application.ErrUnknownCommand, i, step.CommandID)
		}
		if !def.ActionBased || !def.Undoable {
			return nil, fmt.Errorf("%w: step %d: %s is not an undoable action-based command",
				application.ErrCompositeStep, i, step.CommandID)
		}
		defs[i] = def
	}

	handler := func(ctx context.Context, s *domain.EditorState, _ application.Params) ([]actions.Action, error) {
		var all []actions.Action
		cur := s
		for i, step := range steps {
			def := defs[i]
			params, err := application.ValidateParams(def.Params, step.Params)
			if err != nil {
				return nil, fmt.Errorf("step %d (%s): %w", i, def.ID, err)
			}
			if def.When != nil && !def.When(cur, params) {
				return nil, fmt.Errorf("%w: step %d: precondition of %s not met",
					application.ErrCompositeStep, i, def.ID)
			}
			batch, err := def.Handler(ctx, cur, params)
			if err != nil {
				return nil, fmt.Errorf("step %d (%s): %w", i, def.ID, err)
			}

			d := cur.Edit()
			for _, a := range batch {
				a.ApplyToState(d)
			}
			cur = d.Commit()
			all = append(all, batch...)
		}
		return all, nil
	}

	if description == "" {
		description = id
	}
	return &Definition{
		ID:          id,
		Category:    CategoryComposite,
		Description: description,
		ActionBased: true,
		Undoable:    true,
		Handler:     handler,
	}, nil
}
