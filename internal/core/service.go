package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/roniherschmann/go-hitstore/internal/config"
	"github.com/roniherschmann/go-hitstore/internal/metrics"
	"github.com/roniherschmann/go-hitstore/internal/rewrite"
	"github.com/roniherschmann/go-hitstore/internal/store"
)

const defaultIngestBuffer = 10000

// HitStore is the offline hit store: deduplicated, ordered storage of
// rewritten hits on top of a store.Table.
//
// Storage failures never escape. Every operation reports them through its
// sentinel (false, 0, -1, empty) and logs them.
type HitStore struct {
	mu    sync.Mutex // serializes mutations and the date clock
	table store.Table
	now   func() time.Time
	last  time.Time
	log   zerolog.Logger

	ingestMu sync.RWMutex // guards sends on ingestCh against Close
	closed   bool
	ingestCh chan pendingHit
}

type Option func(*HitStore)

// WithClock replaces time.Now as the source of creation dates and origin times.
func WithClock(now func() time.Time) Option {
	return func(s *HitStore) { s.now = now }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *HitStore) { s.log = l }
}

// WithIngestBuffer sets the capacity of the Enqueue buffer.
func WithIngestBuffer(n int) Option {
	return func(s *HitStore) {
		if n > 0 {
			s.ingestCh = make(chan pendingHit, n)
		}
	}
}

// NewHitStore wraps an open table. A nil table gives a store whose every
// operation reports storage as unavailable.
func NewHitStore(t store.Table, opts ...Option) *HitStore {
	if t == nil {
		t = unavailableTable{}
	}
	s := &HitStore{
		table:    t,
		now:      time.Now,
		log:      log.Logger.With().Str("component", "hitstore").Logger(),
		ingestCh: make(chan pendingHit, defaultIngestBuffer),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Open opens the backend named by cfg in cfg.DataDir.
// The returned error is a *StorageError.
func Open(cfg config.Config, opts ...Option) (*HitStore, error) {
	path := cfg.StorePath()
	tbl, err := openTable(cfg.Backend, cfg.DataDir, path)
	if err != nil {
		metrics.StoreFailures.WithLabelValues("open", "unavailable").Inc()
		return nil, &StorageError{Backend: cfg.Backend, Path: path, Err: err}
	}
	return NewHitStore(tbl, opts...), nil
}

func openTable(backend, dir, path string) (store.Table, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	switch backend {
	case config.BackendSQLite, "":
		return store.OpenSQLite(path)
	case config.BackendBadger:
		return store.OpenBadger(path)
	default:
		return nil, fmt.Errorf("unknown backend %q", backend)
	}
}

// Insert rewrites hitURL for offline storage and stores it unless the
// rewritten hit is already present. It returns the rewritten hit and whether
// the hit is stored; a duplicate counts as stored.
//
// multihitOriginTime, when not empty, is the olt shared by a multihit batch.
func (s *HitStore) Insert(ctx context.Context, hitURL, multihitOriginTime string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	hit := rewrite.Rewrite(hitURL, rewrite.OriginTime(multihitOriginTime, now))

	inserted, err := s.table.Insert(ctx, store.Record{Hit: hit, Date: s.stamp(now)})
	if err != nil {
		s.fail("insert", err)
		return hit, false
	}
	if !inserted {
		metrics.HitsDuplicate.Inc()
		s.log.Debug().Str("hit", hit).Msg("hit already stored")
		return hit, true
	}
	metrics.HitsInserted.Inc()
	return hit, true
}

// stamp keeps creation dates strictly increasing within this store.
func (s *HitStore) stamp(now time.Time) time.Time {
	t := now.Round(0)
	if !t.After(s.last) {
		t = s.last.Add(time.Nanosecond)
	}
	s.last = t
	return t
}

// All returns every stored hit, oldest first. Empty when storage is empty or
// unavailable.
func (s *HitStore) All(ctx context.Context) []Hit {
	recs, err := s.table.Fetch(ctx, store.All(), store.OldestFirst, 0)
	if err != nil {
		s.fail("get_all", err)
		return []Hit{}
	}
	return toHits(recs)
}

// Get looks a hit up by its exact rewritten string.
func (s *HitStore) Get(ctx context.Context, hit string) (Hit, bool) {
	return s.one(ctx, "get", store.ByHit(hit), store.Unordered)
}

// First returns the oldest hit.
func (s *HitStore) First(ctx context.Context) (Hit, bool) {
	return s.one(ctx, "first", store.All(), store.OldestFirst)
}

// Last returns the newest hit.
func (s *HitStore) Last(ctx context.Context) (Hit, bool) {
	return s.one(ctx, "last", store.All(), store.NewestFirst)
}

func (s *HitStore) one(ctx context.Context, op string, f store.Filter, order store.Order) (Hit, bool) {
	recs, err := s.table.Fetch(ctx, f, order, 1)
	if err != nil {
		s.fail(op, err)
		return Hit{}, false
	}
	if len(recs) == 0 {
		return Hit{}, false
	}
	return toHit(recs[0]), true
}

// Count returns the number of stored hits. 0 also means storage is unavailable.
func (s *HitStore) Count(ctx context.Context) int {
	n, err := s.table.Count(ctx, store.All())
	if err != nil {
		s.fail("count", err)
		return 0
	}
	return int(n)
}

func (s *HitStore) Exists(ctx context.Context, hit string) bool {
	n, err := s.table.Count(ctx, store.ByHit(hit))
	if err != nil {
		s.fail("exists", err)
		return false
	}
	return n > 0
}

// DeleteAll removes every hit and returns how many, or -1 if nothing could
// be committed.
func (s *HitStore) DeleteAll(ctx context.Context) int {
	return s.deleteMany(ctx, "delete_all", "all", store.All())
}

// DeleteOlderThan removes hits created strictly before cutoff. Same return
// convention as DeleteAll.
func (s *HitStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) int {
	return s.deleteMany(ctx, "delete_older_than", "age", store.OlderThan(cutoff))
}

func (s *HitStore) deleteMany(ctx context.Context, op, reason string, f store.Filter) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.table.Delete(ctx, f)
	if err != nil {
		s.fail(op, err)
		return -1
	}
	metrics.HitsDeleted.WithLabelValues(reason).Add(float64(n))
	return int(n)
}

// Delete removes the hit with this exact string. Deleting a hit that is not
// stored succeeds; false means the deletion could not be committed.
func (s *HitStore) Delete(ctx context.Context, hit string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.table.Delete(ctx, store.ByHit(hit))
	if err != nil {
		s.fail("delete", err)
		return false
	}
	metrics.HitsDeleted.WithLabelValues("identity").Add(float64(n))
	return true
}

// SetRetryCount records the number of send attempts for a stored hit. It is
// the sender's update path; the store itself never changes retry counts.
func (s *HitStore) SetRetryCount(ctx context.Context, hit string, n int) bool {
	if n < 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	found, err := s.table.SetRetryCount(ctx, hit, n)
	if err != nil {
		s.fail("set_retry_count", err)
		return false
	}
	return found
}

// Available reports whether the backing table answers queries.
func (s *HitStore) Available(ctx context.Context) bool {
	_, err := s.table.Count(ctx, store.All())
	return err == nil
}

// Close inserts hits still waiting in the Enqueue buffer, then closes the
// table. Enqueue refuses hits once Close has started.
func (s *HitStore) Close() error {
	s.ingestMu.Lock()
	s.closed = true
	s.ingestMu.Unlock()
	s.drain(context.Background())

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.table.Close()
}

func (s *HitStore) fail(op string, err error) {
	kind := "commit"
	if errors.Is(err, store.ErrUnavailable) {
		kind = "unavailable"
	}
	metrics.StoreFailures.WithLabelValues(op, kind).Inc()
	s.log.Error().Err(err).Str("op", op).Str("kind", kind).Msg("offline store")
}

// unavailableTable stands in for a table that never opened.
type unavailableTable struct{}

func (unavailableTable) Insert(context.Context, store.Record) (bool, error) {
	return false, store.ErrUnavailable
}

func (unavailableTable) Delete(context.Context, store.Filter) (int64, error) {
	return 0, store.ErrUnavailable
}

func (unavailableTable) Count(context.Context, store.Filter) (int64, error) {
	return 0, store.ErrUnavailable
}

func (unavailableTable) Fetch(context.Context, store.Filter, store.Order, int) ([]store.Record, error) {
	return nil, store.ErrUnavailable
}

func (unavailableTable) SetRetryCount(context.Context, string, int) (bool, error) {
	return false, store.ErrUnavailable
}

func (unavailableTable) Close() error { return nil }
