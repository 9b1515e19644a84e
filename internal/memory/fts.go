package memory

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// FTSClient is an FTS5 external-content index over memories, kept
// in lockstep with the base row inside the same transaction. Indexed
// text is always sanitized (redacted/summarized) — never raw or
// policy-denied content, grounded on
// original_source/bartholomew/kernel/fts_client.py's absent-but-implied
// contract plus the delete-then-insert idiom in
// original_source/scripts/backfill_fts.py.
type FTSClient struct {
	db        *sql.DB
	available bool
	probed    bool
}

// NewFTSClient wraps db for FTS index management.
func NewFTSClient(db *sql.DB) *FTSClient {
	return &FTSClient{db: db}
}

// InitSchema creates the FTS5 virtual table and its mapping table.
// Failure (e.g. FTS5 compiled out of SQLite) is non-fatal: Available()
// reports false and callers degrade to vector-only retrieval.
func (c *FTSClient) InitSchema() error {
	_, err := c.db.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS memory_fts USING fts5(
			value, summary, content=''
		)
	`)
	c.probed = true
	if err != nil {
		c.available = false
		return fmt.Errorf("create memory_fts virtual table: %w", err)
	}
	c.available = fts5Available(c.db)
	return nil
}

// Available reports whether FTS5 is usable on this connection.
func (c *FTSClient) Available() bool {
	if !c.probed {
		c.available = fts5Available(c.db)
		c.probed = true
	}
	return c.available
}

// fts5Available probes for FTS5 support by attempting to create and
// drop a throwaway virtual table, grounded on fts5_available in
// original_source/bartholomew/kernel/fts_client.py.
func fts5Available(db *sql.DB) bool {
	if db == nil {
		return false
	}
	if _, err := db.Exec(`CREATE VIRTUAL TABLE IF NOT EXISTS __fts5_probe USING fts5(x)`); err != nil {
		return false
	}
	_, _ = db.Exec(`DROP TABLE IF EXISTS __fts5_probe`)
	return true
}

// ReindexTx replaces rowid's FTS entry with indexText within tx, using
// the delete-then-insert idiom required by external-content FTS5
// tables (a bare UPDATE leaves the index inconsistent).
func (c *FTSClient) ReindexTx(ctx context.Context, tx *sql.Tx, memoryID int64, indexText string) error {
	if !c.Available() {
		return nil
	}
	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO memory_fts_map(memory_id) VALUES (?)`, memoryID); err != nil {
		return fmt.Errorf("ensure fts map row: %w", err)
	}
	if err := c.deleteTx(ctx, tx, memoryID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO memory_fts(rowid, value, summary) VALUES (?, ?, NULL)
	`, memoryID, indexText); err != nil {
		return fmt.Errorf("insert fts row: %w", err)
	}
	return nil
}

// RemoveTx deletes rowid's FTS entry and map row within tx (policy
// denial, or memory deletion).
func (c *FTSClient) RemoveTx(ctx context.Context, tx *sql.Tx, memoryID int64) error {
	if !c.Available() {
		return nil
	}
	if err := c.deleteTx(ctx, tx, memoryID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM memory_fts_map WHERE memory_id = ?`, memoryID); err != nil {
		return fmt.Errorf("delete fts map row: %w", err)
	}
	return nil
}

func (c *FTSClient) deleteTx(ctx context.Context, tx *sql.Tx, memoryID int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO memory_fts(memory_fts, rowid, value, summary) VALUES ('delete', ?, '', '')
	`, memoryID)
	if err != nil {
		return fmt.Errorf("delete prior fts row: %w", err)
	}
	return nil
}

// FTSHit is one ranked result of a Search call.
type FTSHit struct {
	MemoryID int64
	Rank     float64 // bm25() raw score; lower is better (SQLite FTS5 convention)
	Snippet  string
}

// Search runs an FTS5 MATCH query bounded to mapped (non-denied)
// memory ids and returns up to limit hits ordered by bm25 ascending
// (best match first).
func (c *FTSClient) Search(ctx context.Context, query string, limit int) ([]FTSHit, error) {
	if !c.Available() || strings.TrimSpace(query) == "" {
		return nil, nil
	}
	rows, err := c.db.QueryContext(ctx, `
		SELECT m.rowid, bm25(memory_fts) AS rank,
		       snippet(memory_fts, 0, '[', ']', '...', 12)
		FROM memory_fts AS m
		JOIN memory_fts_map AS map ON map.memory_id = m.rowid
		WHERE memory_fts MATCH ?
		ORDER BY rank
		LIMIT ?
	`, query, limit)
	if err != nil {
		log.Warn().Err(err).Str("query", query).Msg("fts5 search failed, returning no results")
		return nil, nil
	}
	defer rows.Close()

	var hits []FTSHit
	for rows.Next() {
		var h FTSHit
		if err := rows.Scan(&h.MemoryID, &h.Rank, &h.Snippet); err != nil {
			return nil, fmt.Errorf("scan fts hit: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// Count returns the number of rows currently mapped into the FTS
// index, for health reporting and the gauge scraped by Prometheus.
func (c *FTSClient) Count(ctx context.Context) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memory_fts_map`).Scan(&n)
	return n, err
}
