package core

import (
	"context"
	"time"

	"github.com/roniherschmann/go-hitstore/internal/metrics"
)

type pendingHit struct {
	url        string
	originTime string
}

// Enqueue hands a hit to RunIngester without blocking. It returns false and
// drops the hit when the buffer is full or the store is closed.
func (s *HitStore) Enqueue(hitURL, multihitOriginTime string) bool {
	s.ingestMu.RLock()
	defer s.ingestMu.RUnlock()
	if s.closed {
		metrics.IngestDropped.Inc()
		return false
	}
	select {
	case s.ingestCh <- pendingHit{url: hitURL, originTime: multihitOriginTime}:
		return true
	default:
		metrics.IngestDropped.Inc()
		return false
	}
}

// RunIngester inserts enqueued hits until ctx is done, then drains what is
// already buffered.
func (s *HitStore) RunIngester(ctx context.Context) {
	for {
		select {
		case p := <-s.ingestCh:
			s.ingest(ctx, p)
		case <-ctx.Done():
			s.drain(context.WithoutCancel(ctx))
			return
		}
	}
}

func (s *HitStore) drain(ctx context.Context) {
	for {
		select {
		case p := <-s.ingestCh:
			s.ingest(ctx, p)
		default:
			return
		}
	}
}

func (s *HitStore) ingest(ctx context.Context, p pendingHit) {
	if hit, ok := s.Insert(ctx, p.url, p.originTime); !ok {
		s.log.Error().Str("hit", hit).Msg("insert enqueued hit")
	}
}

// RunPurger deletes hits older than maxAge every interval until ctx is done.
// A non-positive maxAge or interval disables it.
func (s *HitStore) RunPurger(ctx context.Context, maxAge, interval time.Duration) {
	if maxAge <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.purge(ctx, maxAge)
	for {
		select {
		case <-ticker.C:
			s.purge(ctx, maxAge)
		case <-ctx.Done():
			return
		}
	}
}

func (s *HitStore) purge(ctx context.Context, maxAge time.Duration) {
	cutoff := s.now().Add(-maxAge)
	if n := s.DeleteOlderThan(ctx, cutoff); n > 0 {
		s.log.Info().Int("deleted", n).Time("cutoff", cutoff).Msg("purged stale hits")
	}
}
