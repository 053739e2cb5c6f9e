package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Unix(1718000000, 0)

func at(sec int) time.Time { return base.Add(time.Duration(sec) * time.Second) }

func createSQLiteTable(t *testing.T) Table {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "OfflineHits.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func createBadgerTable(t *testing.T) Table {
	t.Helper()
	b, err := OpenBadgerInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func forEachBackend(t *testing.T, fn func(t *testing.T, tbl Table)) {
	backends := map[string]func(*testing.T) Table{
		"sqlite": createSQLiteTable,
		"badger": createBadgerTable,
	}
	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			fn(t, open(t))
		})
	}
}

func seed(t *testing.T, tbl Table, recs ...Record) {
	t.Helper()
	for _, r := range recs {
		inserted, err := tbl.Insert(context.Background(), r)
		require.NoError(t, err)
		require.True(t, inserted, "seed %q", r.Hit)
	}
}

func hitsOf(recs []Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Hit
	}
	return out
}

func TestTable_InsertIsIdempotentOnHit(t *testing.T) {
	forEachBackend(t, func(t *testing.T, tbl Table) {
		ctx := context.Background()

		inserted, err := tbl.Insert(ctx, Record{Hit: "a", Date: at(1)})
		require.NoError(t, err)
		assert.True(t, inserted)

		inserted, err = tbl.Insert(ctx, Record{Hit: "a", Date: at(2)})
		require.NoError(t, err)
		assert.False(t, inserted)

		recs, err := tbl.Fetch(ctx, ByHit("a"), Unordered, 0)
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.True(t, recs[0].Date.Equal(at(1)), "duplicate insert must not touch the date")
		assert.Equal(t, 0, recs[0].RetryCount)
	})
}

func TestTable_InsertRejectsNegativeRetry(t *testing.T) {
	forEachBackend(t, func(t *testing.T, tbl Table) {
		_, err := tbl.Insert(context.Background(), Record{Hit: "a", Date: at(1), RetryCount: -1})
		assert.Error(t, err)
	})
}

func TestTable_CountByFilter(t *testing.T) {
	forEachBackend(t, func(t *testing.T, tbl Table) {
		ctx := context.Background()
		seed(t, tbl,
			Record{Hit: "c", Date: at(3)},
			Record{Hit: "a", Date: at(1)},
			Record{Hit: "b", Date: at(2)},
		)

		n, err := tbl.Count(ctx, All())
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)

		n, err = tbl.Count(ctx, ByHit("b"))
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		n, err = tbl.Count(ctx, ByHit("missing"))
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)

		n, err = tbl.Count(ctx, OlderThan(at(2)))
		require.NoError(t, err)
		assert.Equal(t, int64(1), n, "cutoff is exclusive")
	})
}

func TestTable_FetchOrdering(t *testing.T) {
	forEachBackend(t, func(t *testing.T, tbl Table) {
		ctx := context.Background()
		seed(t, tbl,
			Record{Hit: "mid", Date: at(2)},
			Record{Hit: "new", Date: at(3)},
			Record{Hit: "old", Date: at(1)},
		)

		recs, err := tbl.Fetch(ctx, All(), OldestFirst, 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"old", "mid", "new"}, hitsOf(recs))

		recs, err = tbl.Fetch(ctx, All(), NewestFirst, 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"new", "mid", "old"}, hitsOf(recs))

		recs, err = tbl.Fetch(ctx, All(), OldestFirst, 1)
		require.NoError(t, err)
		assert.Equal(t, []string{"old"}, hitsOf(recs))

		recs, err = tbl.Fetch(ctx, All(), NewestFirst, 1)
		require.NoError(t, err)
		assert.Equal(t, []string{"new"}, hitsOf(recs))

		recs, err = tbl.Fetch(ctx, All(), Unordered, 0)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"old", "mid", "new"}, hitsOf(recs))

		recs, err = tbl.Fetch(ctx, OlderThan(at(3)), NewestFirst, 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"mid", "old"}, hitsOf(recs))

		recs, err = tbl.Fetch(ctx, OlderThan(at(3)), Unordered, 0)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"mid", "old"}, hitsOf(recs))
	})
}

func TestTable_FetchEmptyIsNotNil(t *testing.T) {
	forEachBackend(t, func(t *testing.T, tbl Table) {
		recs, err := tbl.Fetch(context.Background(), All(), OldestFirst, 0)
		require.NoError(t, err)
		assert.NotNil(t, recs)
		assert.Empty(t, recs)
	})
}

func TestTable_DeleteByFilter(t *testing.T) {
	forEachBackend(t, func(t *testing.T, tbl Table) {
		ctx := context.Background()
		seed(t, tbl,
			Record{Hit: "a", Date: at(1)},
			Record{Hit: "b", Date: at(2)},
			Record{Hit: "c", Date: at(3)},
			Record{Hit: "d", Date: at(4)},
		)

		n, err := tbl.Delete(ctx, OlderThan(at(3)))
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		n, err = tbl.Delete(ctx, ByHit("c"))
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		n, err = tbl.Delete(ctx, ByHit("c"))
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)

		recs, err := tbl.Fetch(ctx, All(), OldestFirst, 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"d"}, hitsOf(recs))

		n, err = tbl.Delete(ctx, All())
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		n, err = tbl.Count(ctx, All())
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)
	})
}

func TestTable_DeletedHitCanBeInsertedAgain(t *testing.T) {
	forEachBackend(t, func(t *testing.T, tbl Table) {
		ctx := context.Background()
		seed(t, tbl, Record{Hit: "a", Date: at(1)})

		_, err := tbl.Delete(ctx, ByHit("a"))
		require.NoError(t, err)

		inserted, err := tbl.Insert(ctx, Record{Hit: "a", Date: at(5)})
		require.NoError(t, err)
		assert.True(t, inserted)

		recs, err := tbl.Fetch(ctx, All(), OldestFirst, 0)
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.True(t, recs[0].Date.Equal(at(5)))
	})
}

func TestTable_SetRetryCount(t *testing.T) {
	forEachBackend(t, func(t *testing.T, tbl Table) {
		ctx := context.Background()
		seed(t, tbl, Record{Hit: "a", Date: at(1)})

		found, err := tbl.SetRetryCount(ctx, "a", 3)
		require.NoError(t, err)
		assert.True(t, found)

		found, err = tbl.SetRetryCount(ctx, "missing", 3)
		require.NoError(t, err)
		assert.False(t, found)

		_, err = tbl.SetRetryCount(ctx, "a", -1)
		assert.Error(t, err)

		recs, err := tbl.Fetch(ctx, ByHit("a"), Unordered, 0)
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, 3, recs[0].RetryCount)
		assert.True(t, recs[0].Date.Equal(at(1)), "retry update must not touch the date")
	})
}

func TestTable_ClosedIsUnavailable(t *testing.T) {
	forEachBackend(t, func(t *testing.T, tbl Table) {
		ctx := context.Background()
		require.NoError(t, tbl.Close())
		require.NoError(t, tbl.Close(), "second close is a no-op")

		_, err := tbl.Insert(ctx, Record{Hit: "a", Date: at(1)})
		assert.ErrorIs(t, err, ErrUnavailable)
		_, err = tbl.Delete(ctx, All())
		assert.ErrorIs(t, err, ErrUnavailable)
		_, err = tbl.Count(ctx, All())
		assert.ErrorIs(t, err, ErrUnavailable)
		_, err = tbl.Fetch(ctx, All(), OldestFirst, 0)
		assert.ErrorIs(t, err, ErrUnavailable)
		_, err = tbl.SetRetryCount(ctx, "a", 1)
		assert.ErrorIs(t, err, ErrUnavailable)
	})
}

func TestFilter_match(t *testing.T) {
	r := Record{Hit: "a", Date: at(2)}

	assert.True(t, All().match(r))
	assert.True(t, ByHit("a").match(r))
	assert.False(t, ByHit("b").match(r))
	assert.True(t, OlderThan(at(3)).match(r))
	assert.False(t, OlderThan(at(2)).match(r))
}
