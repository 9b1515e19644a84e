package memory

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// ChunkFTSClient is an FTS5 external-content index over memory_chunks,
// a chunk-level secondary index maintained alongside memory_chunks
// whenever a memory's chunks are replaced wholesale. Mirrors
// FTSClient's delete-then-insert idiom since external-content FTS5
// tables don't participate in SQLite foreign-key cascades.
type ChunkFTSClient struct {
	db        *sql.DB
	available bool
	probed    bool
}

// NewChunkFTSClient wraps db for chunk-level FTS index management.
func NewChunkFTSClient(db *sql.DB) *ChunkFTSClient {
	return &ChunkFTSClient{db: db}
}

// InitSchema creates the chunk_fts virtual table. Failure is
// non-fatal, same as FTSClient.InitSchema.
func (c *ChunkFTSClient) InitSchema() error {
	_, err := c.db.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS chunk_fts USING fts5(
			text, content=''
		)
	`)
	c.probed = true
	if err != nil {
		c.available = false
		return fmt.Errorf("create chunk_fts virtual table: %w", err)
	}
	c.available = fts5Available(c.db)
	return nil
}

// Available reports whether FTS5 is usable on this connection.
func (c *ChunkFTSClient) Available() bool {
	if !c.probed {
		c.available = fts5Available(c.db)
		c.probed = true
	}
	return c.available
}

// ReindexTx replaces chunkID's FTS entry with text within tx.
func (c *ChunkFTSClient) ReindexTx(ctx context.Context, tx *sql.Tx, chunkID int64, text string) error {
	if !c.Available() {
		return nil
	}
	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO chunk_fts_map(chunk_id) VALUES (?)`, chunkID); err != nil {
		return fmt.Errorf("ensure chunk fts map row: %w", err)
	}
	if err := c.deleteTx(ctx, tx, chunkID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO chunk_fts(rowid, text) VALUES (?, ?)
	`, chunkID, text); err != nil {
		return fmt.Errorf("insert chunk fts row: %w", err)
	}
	return nil
}

// RemoveTx deletes chunkID's FTS entry and map row within tx, used
// before a chunk row is dropped so the virtual table never holds a
// stale entry for a chunk id that no longer exists.
func (c *ChunkFTSClient) RemoveTx(ctx context.Context, tx *sql.Tx, chunkID int64) error {
	if !c.Available() {
		return nil
	}
	if err := c.deleteTx(ctx, tx, chunkID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunk_fts_map WHERE chunk_id = ?`, chunkID); err != nil {
		return fmt.Errorf("delete chunk fts map row: %w", err)
	}
	return nil
}

func (c *ChunkFTSClient) deleteTx(ctx context.Context, tx *sql.Tx, chunkID int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO chunk_fts(chunk_fts, rowid, text) VALUES ('delete', ?, '')
	`, chunkID)
	if err != nil {
		return fmt.Errorf("delete prior chunk fts row: %w", err)
	}
	return nil
}

// ChunkHit is one ranked chunk-level search result.
type ChunkHit struct {
	ChunkID int64
	Rank    float64
	Snippet string
}

// Search runs an FTS5 MATCH query over mapped chunks.
func (c *ChunkFTSClient) Search(ctx context.Context, query string, limit int) ([]ChunkHit, error) {
	if !c.Available() || strings.TrimSpace(query) == "" {
		return nil, nil
	}
	rows, err := c.db.QueryContext(ctx, `
		SELECT f.rowid, bm25(chunk_fts) AS rank,
		       snippet(chunk_fts, 0, '[', ']', '...', 12)
		FROM chunk_fts AS f
		JOIN chunk_fts_map AS map ON map.chunk_id = f.rowid
		WHERE chunk_fts MATCH ?
		ORDER BY rank
		LIMIT ?
	`, query, limit)
	if err != nil {
		return nil, nil
	}
	defer rows.Close()

	var hits []ChunkHit
	for rows.Next() {
		var h ChunkHit
		if err := rows.Scan(&h.ChunkID, &h.Rank, &h.Snippet); err != nil {
			return nil, fmt.Errorf("scan chunk fts hit: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// Count returns the number of chunks currently mapped into the index.
func (c *ChunkFTSClient) Count(ctx context.Context) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunk_fts_map`).Scan(&n)
	return n, err
}
