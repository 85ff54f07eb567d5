package sqlite

import (
	"database/sql"
	"time"

	"mindmap/internal/domain"
	"mindmap/internal/ports"
)

// storeTx implements ports.StoreTx
type storeTx struct {
	tx *sql.Tx
}

// Ensure storeTx implements StoreTx
var _ ports.StoreTx = (*storeTx)(nil)

// GetRecord retrieves a record inside the transaction
func (t *storeTx) GetRecord(mindmapID, shortID string) (*domain.Record, error) {
	return getRecord(t.tx.QueryRow(recordQuery, mindmapID, shortID))
}

// UpsertRecord inserts or replaces a record. The local modification stamp
// only ever grows, so two writes within one clock tick stay distinguishable.
func (t *storeTx) UpsertRecord(rec *domain.Record) error {
	_, err := t.tx.Exec(`
		INSERT INTO nodes (mindmap_id, short_id, id, parent_short_id, order_index, title, note,
			created_at, updated_at, dirty, deleted, local_modified_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (mindmap_id, short_id) DO UPDATE SET
			id = CASE WHEN excluded.id = '' THEN nodes.id ELSE excluded.id END,
			parent_short_id = excluded.parent_short_id,
			order_index = excluded.order_index,
			title = excluded.title,
			note = excluded.note,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			dirty = excluded.dirty,
			deleted = excluded.deleted,
			local_modified_at = MAX(excluded.local_modified_at, nodes.local_modified_at + 1)
	`,
		rec.MindmapID, rec.ShortID, rec.ID, rec.ParentShortID, rec.OrderIndex, rec.Title, rec.Note,
		toNanos(rec.CreatedAt), toNanos(rec.UpdatedAt), boolInt(rec.Dirty), boolInt(rec.Deleted),
		toNanos(rec.LocalModifiedAt))
	return err
}

// MarkDeleted turns a record into a dirty tombstone
func (t *storeTx) MarkDeleted(mindmapID, shortID string, at time.Time) error {
	_, err := t.tx.Exec(`
		UPDATE nodes
		SET deleted = 1, dirty = 1, local_modified_at = MAX(?, local_modified_at + 1)
		WHERE mindmap_id = ? AND short_id = ?
	`, toNanos(at), mindmapID, shortID)
	return err
}

// ClearDirty acknowledges an uploaded record unless it changed since
func (t *storeTx) ClearDirty(mindmapID, shortID string, modifiedAt time.Time) error {
	_, err := t.tx.Exec(`
		UPDATE nodes SET dirty = 0
		WHERE mindmap_id = ? AND short_id = ? AND deleted = 0 AND local_modified_at = ?
	`, mindmapID, shortID, toNanos(modifiedAt))
	return err
}

// PurgeRecord removes an acknowledged tombstone unless it was revived since
func (t *storeTx) PurgeRecord(mindmapID, shortID string, modifiedAt time.Time) error {
	_, err := t.tx.Exec(`
		DELETE FROM nodes
		WHERE mindmap_id = ? AND short_id = ? AND deleted = 1 AND local_modified_at = ?
	`, mindmapID, shortID, toNanos(modifiedAt))
	return err
}

// PutDocument inserts or updates a document header
func (t *storeTx) PutDocument(doc *domain.Document) error {
	_, err := t.tx.Exec(`
		INSERT INTO documents (id, title, updated_at, last_synced_remote)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			title = excluded.title,
			updated_at = excluded.updated_at,
			last_synced_remote = excluded.last_synced_remote
	`, doc.ID, doc.Title, toNanos(doc.UpdatedAt), toNanos(doc.LastSyncedRemote))
	return err
}

// ReplaceNodes swaps every record of a mindmap, tombstones included, for a
// clean copy of nodes
func (t *storeTx) ReplaceNodes(mindmapID string, nodes []domain.Node) error {
	if _, err := t.tx.Exec(`DELETE FROM nodes WHERE mindmap_id = ?`, mindmapID); err != nil {
		return err
	}

	stmt, err := t.tx.Prepare(`
		INSERT INTO nodes (mindmap_id, short_id, id, parent_short_id, order_index, title, note,
			created_at, updated_at, dirty, deleted, local_modified_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, n := range nodes {
		_, err := stmt.Exec(mindmapID, n.ShortID, n.ID, n.ParentShortID, n.OrderIndex, n.Title, n.Note,
			toNanos(n.CreatedAt), toNanos(n.UpdatedAt), toNanos(n.UpdatedAt))
		if err != nil {
			return err
		}
	}
	return nil
}

// Commit commits the transaction
func (t *storeTx) Commit() error {
	return t.tx.Commit()
}

// Rollback aborts the transaction. Rolling back after Commit is a no-op.
func (t *storeTx) Rollback() error {
	if err := t.tx.Rollback(); err != sql.ErrTxDone {
		return err
	}
	return nil
}
