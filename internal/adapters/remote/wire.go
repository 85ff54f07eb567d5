// Package remote talks to the authoritative copy of every mindmap over HTTP.
// It holds the client used by editors, and an in-memory reference backend
// served with gin.
package remote

import (
	"time"

	"mindmap/internal/domain"
)

// Wire types. Timestamps travel as RFC 3339 with nanoseconds so the version a
// client compares against is exactly the one the server stored.

type nodeJSON struct {
	ID            string    `json:"id"`
	ShortID       string    `json:"shortId"`
	MindmapID     string    `json:"mindmapId"`
	ParentShortID string    `json:"parentShortId,omitempty"`
	OrderIndex    int       `json:"orderIndex"`
	Title         string    `json:"title"`
	Note          string    `json:"note,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type documentJSON struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type snapshotJSON struct {
	Document documentJSON `json:"document"`
	Nodes    []nodeJSON   `json:"nodes"`
}

type changesJSON struct {
	Document     *documentJSON `json:"document,omitempty"`
	UpdatedNodes []nodeJSON    `json:"updatedNodes,omitempty"`
	DeletedIDs   []string      `json:"deletedIds,omitempty"`
}

type versionJSON struct {
	UpdatedAt time.Time `json:"updatedAt"`
}

type errorJSON struct {
	Error string `json:"error"`
}

func toNodeJSON(n domain.Node) nodeJSON {
	return nodeJSON{
		ID:            n.ID,
		ShortID:       n.ShortID,
		MindmapID:     n.MindmapID,
		ParentShortID: n.ParentShortID,
		OrderIndex:    n.OrderIndex,
		Title:         n.Title,
		Note:          n.Note,
		CreatedAt:     n.CreatedAt,
		UpdatedAt:     n.UpdatedAt,
	}
}

func (n nodeJSON) node() domain.Node {
	return domain.Node{
		ID:            n.ID,
		ShortID:       n.ShortID,
		MindmapID:     n.MindmapID,
		ParentShortID: n.ParentShortID,
		OrderIndex:    n.OrderIndex,
		Title:         n.Title,
		Note:          n.Note,
		CreatedAt:     n.CreatedAt.UTC(),
		UpdatedAt:     n.UpdatedAt.UTC(),
	}
}

func toDocumentJSON(d domain.Document) documentJSON {
	return documentJSON{ID: d.ID, Title: d.Title, UpdatedAt: d.UpdatedAt}
}

func (d documentJSON) document() domain.Document {
	return domain.Document{ID: d.ID, Title: d.Title, UpdatedAt: d.UpdatedAt.UTC()}
}

func toSnapshotJSON(s *domain.Snapshot) snapshotJSON {
	out := snapshotJSON{Document: toDocumentJSON(s.Document), Nodes: make([]nodeJSON, 0, len(s.Nodes))}
	for _, n := range s.Nodes {
		out.Nodes = append(out.Nodes, toNodeJSON(n))
	}
	return out
}

func (s snapshotJSON) snapshot() *domain.Snapshot {
	out := &domain.Snapshot{Document: s.Document.document(), Nodes: make([]domain.Node, 0, len(s.Nodes))}
	for _, n := range s.Nodes {
		out.Nodes = append(out.Nodes, n.node())
	}
	return out
}

func toChangesJSON(cs domain.ChangeSet) changesJSON {
	out := changesJSON{DeletedIDs: cs.DeletedIDs}
	if cs.Document != nil {
		d := toDocumentJSON(*cs.Document)
		out.Document = &d
	}
	for _, n := range cs.UpdatedNodes {
		out.UpdatedNodes = append(out.UpdatedNodes, toNodeJSON(n))
	}
	return out
}

func (c changesJSON) changeSet() domain.ChangeSet {
	out := domain.ChangeSet{DeletedIDs: c.DeletedIDs}
	if c.Document != nil {
		d := c.Document.document()
		out.Document = &d
	}
	for _, n := range c.UpdatedNodes {
		out.UpdatedNodes = append(out.UpdatedNodes, n.node())
	}
	return out
}
