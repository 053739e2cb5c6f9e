package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Key layout:
//
//	h/<hit>              -> date (8 bytes) | retry (8 bytes)
//	d/<date (8 bytes)><hit> -> empty, ordered date index
var (
	hitPrefix  = []byte("h/")
	datePrefix = []byte("d/")
)

// Badger is a Table backed by a Badger key/value directory. Dates are kept in a
// secondary index so age filters and ordered reads are range scans.
type Badger struct {
	db     *badger.DB
	closed atomic.Bool
}

// OpenBadger opens or creates the Badger directory at path.
func OpenBadger(path string) (*Badger, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return openBadger(badger.DefaultOptions(path))
}

// OpenBadgerInMemory opens a Badger table that lives only in memory.
func OpenBadgerInMemory() (*Badger, error) {
	return openBadger(badger.DefaultOptions("").WithInMemory(true))
}

func openBadger(opts badger.Options) (*Badger, error) {
	opts = opts.WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &Badger{db: db}, nil
}

func (b *Badger) Insert(ctx context.Context, r Record) (bool, error) {
	if b.closed.Load() {
		return false, ErrUnavailable
	}
	if r.RetryCount < 0 {
		return false, fmt.Errorf("insert hit: negative retry count %d", r.RetryCount)
	}
	inserted := false
	err := b.db.Update(func(txn *badger.Txn) error {
		hk := hitKey(r.Hit)
		_, err := txn.Get(hk)
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := txn.Set(hk, encodeValue(r.Date, r.RetryCount)); err != nil {
			return err
		}
		if err := txn.Set(dateKey(r.Date, r.Hit), nil); err != nil {
			return err
		}
		inserted = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("insert hit: %w", err)
	}
	return inserted, nil
}

func (b *Badger) Delete(ctx context.Context, f Filter) (int64, error) {
	if b.closed.Load() {
		return 0, ErrUnavailable
	}
	var n int64
	err := b.db.Update(func(txn *badger.Txn) error {
		recs, err := b.collect(txn, f, OldestFirst, 0)
		if err != nil {
			return err
		}
		for _, r := range recs {
			if err := txn.Delete(hitKey(r.Hit)); err != nil {
				return err
			}
			if err := txn.Delete(dateKey(r.Date, r.Hit)); err != nil {
				return err
			}
		}
		n = int64(len(recs))
		return nil
	})
	if errors.Is(err, badger.ErrTxnTooBig) {
		n, err = b.deleteBatched(f)
	}
	if err != nil {
		return 0, fmt.Errorf("delete hits: %w", err)
	}
	return n, nil
}

// deleteBatched removes the records matched by f through a WriteBatch, which
// commits in as many transactions as the backlog needs. Hit keys go before
// their index keys so an interrupted batch leaves only dangling index
// entries, which reads skip.
func (b *Badger) deleteBatched(f Filter) (int64, error) {
	var recs []Record
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		recs, err = b.collect(txn, f, Unordered, 0)
		return err
	})
	if err != nil {
		return 0, err
	}

	wb := b.db.NewWriteBatch()
	defer wb.Cancel()
	for _, r := range recs {
		if err := wb.Delete(hitKey(r.Hit)); err != nil {
			return 0, err
		}
		if err := wb.Delete(dateKey(r.Date, r.Hit)); err != nil {
			return 0, err
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, err
	}
	return int64(len(recs)), nil
}

func (b *Badger) Count(ctx context.Context, f Filter) (int64, error) {
	if b.closed.Load() {
		return 0, ErrUnavailable
	}
	var n int64
	err := b.db.View(func(txn *badger.Txn) error {
		switch f.kind {
		case filterHit:
			_, err := txn.Get(hitKey(f.hit))
			if err == nil {
				n = 1
				return nil
			}
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		case filterOlderThan:
			var lookupErr error
			err := scanDates(txn, false, func(date time.Time, hit string) bool {
				if !date.Before(f.cutoff) {
					return false
				}
				_, ok, err := getRecord(txn, hit)
				if err != nil {
					lookupErr = err
					return false
				}
				if ok {
					n++
				}
				return true
			})
			if err != nil {
				return err
			}
			return lookupErr
		default:
			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false
			opts.Prefix = hitPrefix
			it := txn.NewIterator(opts)
			defer it.Close()
			for it.Seek(hitPrefix); it.ValidForPrefix(hitPrefix); it.Next() {
				n++
			}
			return nil
		}
	})
	if err != nil {
		return 0, fmt.Errorf("count hits: %w", err)
	}
	return n, nil
}

func (b *Badger) Fetch(ctx context.Context, f Filter, order Order, limit int) ([]Record, error) {
	if b.closed.Load() {
		return nil, ErrUnavailable
	}
	var out []Record
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		out, err = b.collect(txn, f, order, limit)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fetch hits: %w", err)
	}
	return out, nil
}

func (b *Badger) SetRetryCount(ctx context.Context, hit string, n int) (bool, error) {
	if b.closed.Load() {
		return false, ErrUnavailable
	}
	if n < 0 {
		return false, fmt.Errorf("set retry count: negative value %d", n)
	}
	found := false
	err := b.db.Update(func(txn *badger.Txn) error {
		r, ok, err := getRecord(txn, hit)
		if err != nil || !ok {
			return err
		}
		found = true
		return txn.Set(hitKey(hit), encodeValue(r.Date, n))
	})
	if err != nil {
		return false, fmt.Errorf("set retry count: %w", err)
	}
	return found, nil
}

// Close closes the database. Later calls on b return ErrUnavailable.
func (b *Badger) Close() error {
	if b.closed.Swap(true) || b.db == nil {
		return nil
	}
	return b.db.Close()
}

// collect reads the records matched by f. Iterators are closed before it
// returns so callers may mutate in the same transaction.
func (b *Badger) collect(txn *badger.Txn, f Filter, order Order, limit int) ([]Record, error) {
	out := []Record{}
	full := func() bool { return limit > 0 && len(out) >= limit }

	if f.kind == filterHit {
		r, ok, err := getRecord(txn, f.hit)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, r)
		}
		return out, nil
	}

	if order == Unordered {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = hitPrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(hitPrefix); it.ValidForPrefix(hitPrefix) && !full(); it.Next() {
			item := it.Item()
			val, err := item.ValueCopy(nil)
			if err != nil {
				return nil, err
			}
			r, err := decodeValue(val)
			if err != nil {
				return nil, err
			}
			r.Hit = string(bytes.TrimPrefix(item.KeyCopy(nil), hitPrefix))
			if f.match(r) {
				out = append(out, r)
			}
		}
		return out, nil
	}

	var lookupErr error
	err := scanDates(txn, order == NewestFirst, func(date time.Time, hit string) bool {
		if f.kind == filterOlderThan && !date.Before(f.cutoff) {
			// Ascending scan: nothing older follows. Descending: keep going.
			return order == NewestFirst
		}
		r, ok, err := getRecord(txn, hit)
		if err != nil {
			lookupErr = err
			return false
		}
		// A missing record is an index entry left by an interrupted batched delete.
		if ok {
			out = append(out, r)
		}
		return !full()
	})
	if err != nil {
		return nil, err
	}
	if lookupErr != nil {
		return nil, lookupErr
	}
	return out, nil
}

// scanDates walks the date index and calls fn until it returns false.
func scanDates(txn *badger.Txn, reverse bool, fn func(date time.Time, hit string) bool) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = datePrefix
	opts.Reverse = reverse
	it := txn.NewIterator(opts)
	defer it.Close()

	seek := datePrefix
	if reverse {
		seek = append(append([]byte{}, datePrefix...), bytes.Repeat([]byte{0xff}, 9)...)
	}
	for it.Seek(seek); it.ValidForPrefix(datePrefix); it.Next() {
		key := it.Item().KeyCopy(nil)
		if len(key) < len(datePrefix)+8 {
			return fmt.Errorf("malformed date index key %q", key)
		}
		stamp := key[len(datePrefix) : len(datePrefix)+8]
		date := time.Unix(0, int64(binary.BigEndian.Uint64(stamp)^(1<<63)))
		if !fn(date, string(key[len(datePrefix)+8:])) {
			return nil
		}
	}
	return nil
}

func getRecord(txn *badger.Txn, hit string) (Record, bool, error) {
	item, err := txn.Get(hitKey(hit))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return Record{}, false, err
	}
	r, err := decodeValue(val)
	if err != nil {
		return Record{}, false, err
	}
	r.Hit = hit
	return r, true, nil
}

func hitKey(hit string) []byte {
	return append(append([]byte{}, hitPrefix...), hit...)
}

// dateKey flips the sign bit so byte order matches signed nanosecond order.
func dateKey(date time.Time, hit string) []byte {
	k := make([]byte, 0, len(datePrefix)+8+len(hit))
	k = append(k, datePrefix...)
	k = binary.BigEndian.AppendUint64(k, uint64(date.UnixNano())^(1<<63))
	return append(k, hit...)
}

func encodeValue(date time.Time, retry int) []byte {
	v := make([]byte, 16)
	binary.BigEndian.PutUint64(v[:8], uint64(date.UnixNano()))
	binary.BigEndian.PutUint64(v[8:], uint64(retry))
	return v
}

func decodeValue(v []byte) (Record, error) {
	if len(v) != 16 {
		return Record{}, errors.New("invalid hit value")
	}
	return Record{
		Date:       time.Unix(0, int64(binary.BigEndian.Uint64(v[:8]))),
		RetryCount: int(binary.BigEndian.Uint64(v[8:])),
	}, nil
}
