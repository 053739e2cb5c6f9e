package store

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable is returned by a table that failed to open or was closed.
var ErrUnavailable = errors.New("store: table unavailable")

// Record is one stored offline hit.
type Record struct {
	Hit        string
	Date       time.Time
	RetryCount int
}

type filterKind int

const (
	filterAll filterKind = iota
	filterHit
	filterOlderThan
)

// Filter selects records. The set is closed: All, ByHit and OlderThan.
type Filter struct {
	kind   filterKind
	hit    string
	cutoff time.Time
}

// All matches every record.
func All() Filter { return Filter{kind: filterAll} }

// ByHit matches the record whose hit string equals hit exactly.
func ByHit(hit string) Filter { return Filter{kind: filterHit, hit: hit} }

// OlderThan matches records dated strictly before cutoff.
func OlderThan(cutoff time.Time) Filter { return Filter{kind: filterOlderThan, cutoff: cutoff} }

// match reports whether r is selected by f. Tables that cannot filter
// natively on a scan use it as the predicate.
func (f Filter) match(r Record) bool {
	switch f.kind {
	case filterHit:
		return r.Hit == f.hit
	case filterOlderThan:
		return r.Date.Before(f.cutoff)
	default:
		return true
	}
}

// Order controls the order of Fetch results.
type Order int

const (
	Unordered Order = iota
	OldestFirst
	NewestFirst
)

// Table is the durable record table behind the offline hit store.
// Every mutation is a single atomic commit.
type Table interface {
	// Insert adds r unless a record with the same hit exists.
	// inserted is false for the duplicate case, which is not an error.
	Insert(ctx context.Context, r Record) (inserted bool, err error)
	// Delete removes all records matched by f and returns how many.
	Delete(ctx context.Context, f Filter) (int64, error)
	Count(ctx context.Context, f Filter) (int64, error)
	// Fetch returns matched records in the given order. limit <= 0 means no limit.
	Fetch(ctx context.Context, f Filter, order Order, limit int) ([]Record, error)
	// SetRetryCount updates the retry count of hit. found is false when no
	// record matched.
	SetRetryCount(ctx context.Context, hit string, n int) (found bool, err error)
	Close() error
}
