package main

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perolyat/bartholomew/internal/memory"
)

func writeBackfillRulesFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "memory_rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func openBackfillTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", "file::memory:?cache=shared")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	_, err = db.Exec(memory.Schema)
	require.NoError(t, err)
	return db
}

func TestStatsReportIncludesCounts(t *testing.T) {
	s := stats{total: 10, indexed: 6, skipped: 2, deleted: 1, errors: 1}
	out := s.report()
	assert.Contains(t, out, "Total memories:     10")
	assert.Contains(t, out, "Indexed:            6")
	assert.Contains(t, out, "Skipped (no text):  2")
	assert.Contains(t, out, "Deleted (denied):   1")
	assert.Contains(t, out, "Errors:             1")
}

func TestBackfillOneIndexesPlainMemory(t *testing.T) {
	db := openBackfillTestDB(t)
	ctx := context.Background()
	res, err := db.Exec(`INSERT INTO memories(kind,key,value,ts) VALUES ('note','k1','the quick brown fox','2026-01-01T00:00:00Z')`)
	require.NoError(t, err)
	id, _ := res.LastInsertId()

	fts := memory.NewFTSClient(db)
	require.NoError(t, fts.InitSchema())
	rules := memory.NewMemoryRulesEngine("")
	defer rules.StopWatcher()
	enc := memory.NewEncryptionEngine(memory.NewKeyProvider())

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	r := row{id: id, kind: "note", key: "k1", value: "the quick brown fox", ts: "2026-01-01T00:00:00Z"}
	action := backfillOne(ctx, tx, fts, rules, enc, memory.Policy{}, "summary_preferred", r, false)
	require.NoError(t, tx.Commit())

	assert.Equal(t, "indexed", action)

	hits, err := fts.Search(ctx, "fox", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, id, hits[0].MemoryID)
}

func TestBackfillOneDeletesWhenRuleDeniesIndexing(t *testing.T) {
	db := openBackfillTestDB(t)
	ctx := context.Background()
	res, err := db.Exec(`INSERT INTO memories(kind,key,value,ts) VALUES ('secret','k1','hunting foxes','2026-01-01T00:00:00Z')`)
	require.NoError(t, err)
	id, _ := res.LastInsertId()

	fts := memory.NewFTSClient(db)
	require.NoError(t, fts.InitSchema())

	rulesPath := writeBackfillRulesFile(t, `
never_store:
  - match:
      kind: secret
    metadata:
      allow_store: false
`)
	rules := memory.NewMemoryRulesEngine(rulesPath)
	defer rules.StopWatcher()
	enc := memory.NewEncryptionEngine(memory.NewKeyProvider())

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	r := row{id: id, kind: "secret", key: "k1", value: "hunting foxes", ts: "2026-01-01T00:00:00Z"}
	action := backfillOne(ctx, tx, fts, rules, enc, memory.Policy{}, "summary_preferred", r, false)
	require.NoError(t, tx.Commit())

	assert.Equal(t, "deleted", action)

	hits, err := fts.Search(ctx, "foxes", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestBackfillOneSkipsWhenNoIndexableText(t *testing.T) {
	db := openBackfillTestDB(t)
	ctx := context.Background()
	res, err := db.Exec(`INSERT INTO memories(kind,key,value,ts) VALUES ('note','k1','','2026-01-01T00:00:00Z')`)
	require.NoError(t, err)
	id, _ := res.LastInsertId()

	fts := memory.NewFTSClient(db)
	require.NoError(t, fts.InitSchema())
	rules := memory.NewMemoryRulesEngine("")
	defer rules.StopWatcher()
	enc := memory.NewEncryptionEngine(memory.NewKeyProvider())

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	r := row{id: id, kind: "note", key: "k1", value: "", ts: "2026-01-01T00:00:00Z"}
	action := backfillOne(ctx, tx, fts, rules, enc, memory.Policy{}, "summary_preferred", r, false)
	require.NoError(t, tx.Commit())

	assert.Equal(t, "skipped", action)
}

func TestBackfillOneDeletesWhenPolicyVetoesStrongEncryption(t *testing.T) {
	db := openBackfillTestDB(t)
	ctx := context.Background()
	res, err := db.Exec(`INSERT INTO memories(kind,key,value,ts) VALUES ('health_record','bp1','120/80','2026-01-01T00:00:00Z')`)
	require.NoError(t, err)
	id, _ := res.LastInsertId()

	fts := memory.NewFTSClient(db)
	require.NoError(t, fts.InitSchema())

	rulesPath := writeBackfillRulesFile(t, `
always_keep:
  - match:
      kind: health_record
    metadata:
      encrypt: strong
`)
	rules := memory.NewMemoryRulesEngine(rulesPath)
	defer rules.StopWatcher()
	enc := memory.NewEncryptionEngine(memory.NewKeyProvider())

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	r := row{id: id, kind: "health_record", key: "bp1", value: "120/80", ts: "2026-01-01T00:00:00Z"}
	action := backfillOne(ctx, tx, fts, rules, enc, memory.Policy{DisallowStrongOnly: true}, "summary_preferred", r, false)
	require.NoError(t, tx.Commit())

	assert.Equal(t, "deleted", action)

	hits, err := fts.Search(ctx, "120", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestBackfillOneDryRunDoesNotWrite(t *testing.T) {
	db := openBackfillTestDB(t)
	ctx := context.Background()
	res, err := db.Exec(`INSERT INTO memories(kind,key,value,ts) VALUES ('note','k1','the quick brown fox','2026-01-01T00:00:00Z')`)
	require.NoError(t, err)
	id, _ := res.LastInsertId()

	fts := memory.NewFTSClient(db)
	require.NoError(t, fts.InitSchema())
	rules := memory.NewMemoryRulesEngine("")
	defer rules.StopWatcher()
	enc := memory.NewEncryptionEngine(memory.NewKeyProvider())

	r := row{id: id, kind: "note", key: "k1", value: "the quick brown fox", ts: "2026-01-01T00:00:00Z"}
	action := backfillOne(ctx, nil, fts, rules, enc, memory.Policy{}, "summary_preferred", r, true)

	assert.Equal(t, "indexed", action)

	n, err := fts.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
