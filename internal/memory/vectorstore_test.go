package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVectorStoreUpsertAndSearch(t *testing.T) {
	db := openTestDB(t)
	_, err := db.Exec(Schema)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO memories(kind,key,value,ts) VALUES ('note','a','alpha','t1'), ('note','b','beta','t2')`)
	require.NoError(t, err)

	vs := NewVectorStore(db)
	ctx := context.Background()

	vecA := []float32{1, 0, 0}
	vecB := []float32{0, 1, 0}
	require.NoError(t, vs.Upsert(ctx, 1, vecA, "full", "hash", "m1"))
	require.NoError(t, vs.Upsert(ctx, 2, vecB, "full", "hash", "m1"))

	hits, err := vs.Search(ctx, vecA, 5, VectorSearchOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, int64(1), hits[0].MemoryID)
}

func TestVectorStoreUpsertReplacesExisting(t *testing.T) {
	db := openTestDB(t)
	_, err := db.Exec(Schema)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO memories(kind,key,value,ts) VALUES ('note','a','alpha','t1')`)
	require.NoError(t, err)

	vs := NewVectorStore(db)
	ctx := context.Background()
	require.NoError(t, vs.Upsert(ctx, 1, []float32{1, 0}, "full", "hash", "m1"))
	require.NoError(t, vs.Upsert(ctx, 1, []float32{0, 1}, "full", "hash", "m1"))

	n, err := vs.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestVectorStoreRejectsInvalidSource(t *testing.T) {
	db := openTestDB(t)
	_, err := db.Exec(Schema)
	require.NoError(t, err)
	vs := NewVectorStore(db)
	err = vs.Upsert(context.Background(), 1, []float32{1}, "bogus", "hash", "m1")
	assert.Error(t, err)
}

func TestVectorStoreDeleteForMemory(t *testing.T) {
	db := openTestDB(t)
	_, err := db.Exec(Schema)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO memories(kind,key,value,ts) VALUES ('note','a','alpha','t1')`)
	require.NoError(t, err)

	vs := NewVectorStore(db)
	ctx := context.Background()
	require.NoError(t, vs.Upsert(ctx, 1, []float32{1, 0}, "full", "hash", "m1"))
	require.NoError(t, vs.DeleteForMemory(ctx, 1))

	n, err := vs.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestVectorStoreSearchFiltersByDimMismatch(t *testing.T) {
	db := openTestDB(t)
	_, err := db.Exec(Schema)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO memories(kind,key,value,ts) VALUES ('note','a','alpha','t1')`)
	require.NoError(t, err)

	vs := NewVectorStore(db)
	ctx := context.Background()
	require.NoError(t, vs.Upsert(ctx, 1, []float32{1, 0, 0}, "full", "hash", "m1"))

	hits, err := vs.Search(ctx, []float32{1, 0}, 5, VectorSearchOptions{})
	require.NoError(t, err)
	assert.Empty(t, hits)
}
