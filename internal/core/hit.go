package core

import (
	"fmt"
	"time"

	"github.com/roniherschmann/go-hitstore/internal/store"
)

// Hit is a stored offline hit as handed to callers.
type Hit struct {
	URL          string    `json:"url"`
	CreationDate time.Time `json:"creation_date"`
	RetryCount   int       `json:"retry_count"`
	IsOffline    bool      `json:"is_offline"`
}

func toHit(r store.Record) Hit {
	return Hit{
		URL:          r.Hit,
		CreationDate: r.Date,
		RetryCount:   r.RetryCount,
		IsOffline:    true,
	}
}

func toHits(recs []store.Record) []Hit {
	out := make([]Hit, 0, len(recs))
	for _, r := range recs {
		out = append(out, toHit(r))
	}
	return out
}

// StorageError reports a backing table that could not be opened.
type StorageError struct {
	Backend string
	Path    string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("offline storage unavailable (%s at %s): %v", e.Backend, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
