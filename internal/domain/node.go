package domain

import "time"

// Node is a single element of a mindmap tree
type Node struct {
	ID            string // Storage primary key (ULID)
	ShortID       string // Client-stable identifier used for all references
	MindmapID     string
	ParentShortID string // Empty only for the root
	OrderIndex    int    // Zero-based position among siblings
	Title         string
	Note          string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IsRoot reports whether the node has no parent
func (n Node) IsRoot() bool {
	return n.ParentShortID == ""
}

// Record is the durable counterpart of a Node
type Record struct {
	Node
	Dirty           bool // Has local changes not acknowledged by the remote
	Deleted         bool // Tombstone pending upload
	LocalModifiedAt time.Time
}

// Document is the mindmap header shared by the local and remote replicas
type Document struct {
	ID               string
	Title            string
	UpdatedAt        time.Time
	LastSyncedRemote time.Time // Remote UpdatedAt the local replica last synced against
}

// Snapshot is a full document as served by the remote backend
type Snapshot struct {
	Document Document
	Nodes    []Node
}

// ChangeSet is a batch of local changes sent to the remote backend
type ChangeSet struct {
	Document     *Document
	UpdatedNodes []Node
	DeletedIDs   []string // Short IDs of tombstoned nodes
}

// IsEmpty reports whether the change set carries nothing to upload
func (c ChangeSet) IsEmpty() bool {
	return c.Document == nil && len(c.UpdatedNodes) == 0 && len(c.DeletedIDs) == 0
}
