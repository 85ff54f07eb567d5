package remote

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"mindmap/internal/domain"
	"mindmap/internal/ports"
)

// ErrMissingDocument is returned when the first upload of a mindmap carries
// no document header
var ErrMissingDocument = errors.New("first upload must include the document header")

// Backend is an in-memory authoritative store. It stamps every write with a
// version strictly later than the previous one.
type Backend struct {
	mu   sync.RWMutex
	docs map[string]*domain.Snapshot
	now  func() time.Time
}

// Ensure Backend implements RemoteBackend
var _ ports.RemoteBackend = (*Backend)(nil)

// NewBackend creates an empty backend. A nil clock uses the wall clock.
func NewBackend(now func() time.Time) *Backend {
	if now == nil {
		now = time.Now
	}
	return &Backend{docs: map[string]*domain.Snapshot{}, now: now}
}

func (b *Backend) stamp(prev time.Time) time.Time {
	t := b.now().UTC()
	if !t.After(prev) {
		t = prev.Add(time.Microsecond)
	}
	return t
}

// FetchDocumentVersion returns the version of a stored mindmap
func (b *Backend) FetchDocumentVersion(_ context.Context, mindmapID string) (time.Time, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	snap, ok := b.docs[mindmapID]
	if !ok {
		return time.Time{}, ports.ErrNoRemoteCopy
	}
	return snap.Document.UpdatedAt, nil
}

// FetchDocument returns a copy of a stored mindmap in tree order
func (b *Backend) FetchDocument(_ context.Context, mindmapID string) (*domain.Snapshot, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	snap, ok := b.docs[mindmapID]
	if !ok {
		return nil, ports.ErrNoRemoteCopy
	}
	return &domain.Snapshot{Document: snap.Document, Nodes: slices.Clone(snap.Nodes)}, nil
}

// UploadChanges merges a change set, last writer wins per node
func (b *Backend) UploadChanges(_ context.Context, mindmapID string, cs domain.ChangeSet) (time.Time, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	snap, ok := b.docs[mindmapID]
	if !ok {
		if cs.Document == nil {
			return time.Time{}, fmt.Errorf("%w: %s", ErrMissingDocument, mindmapID)
		}
		snap = &domain.Snapshot{Document: domain.Document{ID: mindmapID}}
		b.docs[mindmapID] = snap
	}
	if cs.Document != nil {
		snap.Document.Title = cs.Document.Title
	}

	nodes := make(map[string]domain.Node, len(snap.Nodes)+len(cs.UpdatedNodes))
	for _, n := range snap.Nodes {
		nodes[n.ShortID] = n
	}
	for _, n := range cs.UpdatedNodes {
		n.MindmapID = mindmapID
		nodes[n.ShortID] = n
	}
	for _, id := range cs.DeletedIDs {
		delete(nodes, id)
	}

	snap.Nodes = sortedNodes(nodes)
	snap.Document.UpdatedAt = b.stamp(snap.Document.UpdatedAt)
	return snap.Document.UpdatedAt, nil
}

// Replace stores a whole mindmap, overwriting any previous copy. The tree
// must be well formed.
func (b *Backend) Replace(_ context.Context, snap *domain.Snapshot) (time.Time, error) {
	nodes := make(map[string]domain.Node, len(snap.Nodes))
	for _, n := range snap.Nodes {
		n.MindmapID = snap.Document.ID
		nodes[n.ShortID] = n
	}
	if err := domain.ValidateTree(nodes); err != nil {
		return time.Time{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	var prev time.Time
	if old, ok := b.docs[snap.Document.ID]; ok {
		prev = old.Document.UpdatedAt
	}
	doc := snap.Document
	doc.LastSyncedRemote = time.Time{}
	doc.UpdatedAt = b.stamp(prev)
	b.docs[doc.ID] = &domain.Snapshot{Document: doc, Nodes: sortedNodes(nodes)}
	return doc.UpdatedAt, nil
}

// List returns the headers of every stored mindmap
func (b *Backend) List() []domain.Document {
	b.mu.RLock()
	defer b.mu.RUnlock()
	docs := make([]domain.Document, 0, len(b.docs))
	for _, snap := range b.docs {
		docs = append(docs, snap.Document)
	}
	slices.SortFunc(docs, func(a, b domain.Document) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return docs
}

func sortedNodes(nodes map[string]domain.Node) []domain.Node {
	out := make([]domain.Node, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n)
	}
	slices.SortFunc(out, func(a, b domain.Node) int {
		return cmp.Or(
			cmp.Compare(a.ParentShortID, b.ParentShortID),
			cmp.Compare(a.OrderIndex, b.OrderIndex),
			cmp.Compare(a.ShortID, b.ShortID),
		)
	})
	return out
}
