package domain

import "maps"

// EditorState is an immutable snapshot of an open mindmap.
// It is only ever changed by committing a Draft, which yields a new snapshot.
type EditorState struct {
	mindmapID string
	nodes     map[string]Node
	collapsed map[string]bool
	current   string
	saved     bool
}

// NewEditorState builds a snapshot from a flat node list.
// The current node is set to the root when one exists.
func NewEditorState(mindmapID string, nodes []Node) *EditorState {
	s := &EditorState{
		mindmapID: mindmapID,
		nodes:     make(map[string]Node, len(nodes)),
		collapsed: map[string]bool{},
		saved:     true,
	}
	for _, n := range nodes {
		s.nodes[n.ShortID] = n
		if n.IsRoot() {
			s.current = n.ShortID
		}
	}
	return s
}

// MindmapID returns the ID of the document the state belongs to
func (s *EditorState) MindmapID() string { return s.mindmapID }

// CurrentNodeID returns the short ID of the selected node
func (s *EditorState) CurrentNodeID() string { return s.current }

// Saved reports whether all persistent changes have been saved upstream
func (s *EditorState) Saved() bool { return s.saved }

// Len returns the number of nodes
func (s *EditorState) Len() int { return len(s.nodes) }

// Node looks up a node by short ID
func (s *EditorState) Node(shortID string) (Node, bool) {
	n, ok := s.nodes[shortID]
	return n, ok
}

// Nodes returns a copy of the node map. Callers may modify the returned map.
func (s *EditorState) Nodes() map[string]Node {
	return maps.Clone(s.nodes)
}

// IsCollapsed reports whether the node's children are hidden
func (s *EditorState) IsCollapsed(shortID string) bool {
	return s.collapsed[shortID]
}

// Root returns the root node
func (s *EditorState) Root() (Node, bool) {
	return FindRoot(s.nodes)
}

// Children returns the children of a node in sibling order
func (s *EditorState) Children(parentShortID string) []Node {
	return Children(s.nodes, parentShortID)
}

// Edit starts a Draft over this snapshot
func (s *EditorState) Edit() *Draft {
	return &Draft{base: s}
}

// Draft is a mutable builder over an immutable EditorState.
// Writes are recorded in an overlay; the base snapshot is never touched.
type Draft struct {
	base *EditorState

	nodes     map[string]Node // nil until the first node write
	collapsed map[string]bool // nil until the first collapse write
	current   *string
	saved     *bool
}

func (d *Draft) nodeMap() map[string]Node {
	if d.nodes == nil {
		d.nodes = maps.Clone(d.base.nodes)
	}
	return d.nodes
}

func (d *Draft) readNodes() map[string]Node {
	if d.nodes != nil {
		return d.nodes
	}
	return d.base.nodes
}

// MindmapID returns the ID of the document being edited
func (d *Draft) MindmapID() string { return d.base.mindmapID }

// Node looks up a node, observing earlier writes to the draft
func (d *Draft) Node(shortID string) (Node, bool) {
	n, ok := d.readNodes()[shortID]
	return n, ok
}

// PutNode inserts or replaces a node
func (d *Draft) PutNode(n Node) {
	d.nodeMap()[n.ShortID] = n
}

// DeleteNode removes a node; removing an absent node is a no-op
func (d *Draft) DeleteNode(shortID string) {
	if _, ok := d.readNodes()[shortID]; !ok {
		return
	}
	delete(d.nodeMap(), shortID)
}

// CurrentNodeID returns the selected node, observing earlier writes
func (d *Draft) CurrentNodeID() string {
	if d.current != nil {
		return *d.current
	}
	return d.base.current
}

// SetCurrentNode changes the selection
func (d *Draft) SetCurrentNode(shortID string) {
	d.current = &shortID
}

// IsCollapsed reports the collapse flag, observing earlier writes
func (d *Draft) IsCollapsed(shortID string) bool {
	if d.collapsed != nil {
		return d.collapsed[shortID]
	}
	return d.base.collapsed[shortID]
}

// SetCollapsed changes the collapse flag of a node
func (d *Draft) SetCollapsed(shortID string, collapsed bool) {
	if d.collapsed == nil {
		d.collapsed = maps.Clone(d.base.collapsed)
	}
	if collapsed {
		d.collapsed[shortID] = true
	} else {
		delete(d.collapsed, shortID)
	}
}

// SetSaved changes the saved flag
func (d *Draft) SetSaved(saved bool) {
	d.saved = &saved
}

// Commit produces a new snapshot. Later writes to the draft start from it.
func (d *Draft) Commit() *EditorState {
	next := &EditorState{
		mindmapID: d.base.mindmapID,
		nodes:     d.base.nodes,
		collapsed: d.base.collapsed,
		current:   d.base.current,
		saved:     d.base.saved,
	}
	if d.nodes != nil {
		next.nodes = d.nodes
	}
	if d.collapsed != nil {
		next.collapsed = d.collapsed
	}
	if d.current != nil {
		next.current = *d.current
	}
	if d.saved != nil {
		next.saved = *d.saved
	}
	d.base = next
	d.nodes, d.collapsed, d.current, d.saved = nil, nil, nil, nil
	return next
}
