// Package dispatch sends stored offline hits once the network is back.
//
// The sender always works on the oldest stored hit. A delivered hit is
// deleted; a failed one has its retry count bumped through the store's
// retry path and is dropped once it has used up its attempts.
package dispatch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/roniherschmann/go-hitstore/internal/core"
	"github.com/roniherschmann/go-hitstore/internal/metrics"
)

// Result is the outcome of one send step.
type Result int

const (
	Idle Result = iota // nothing stored
	Sent
	Failed
	Dropped
)

func (r Result) String() string {
	switch r {
	case Idle:
		return "idle"
	case Sent:
		return "sent"
	case Failed:
		return "failed"
	case Dropped:
		return "dropped"
	default:
		return fmt.Sprintf("Result(%d)", int(r))
	}
}

type Options struct {
	Client *http.Client
	// MaxRetries is the number of failed sends after which a hit is
	// dropped. Zero keeps retrying forever.
	MaxRetries int
	// Interval is the wait after finding the store empty.
	Interval time.Duration
	Backoff  Backoff
}

type Sender struct {
	store      *core.HitStore
	client     *http.Client
	maxRetries int
	interval   time.Duration
	backoff    Backoff
	log        zerolog.Logger
}

func NewSender(s *core.HitStore, opts Options) *Sender {
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	b := opts.Backoff
	if b.Initial <= 0 {
		b = DefaultBackoff()
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Sender{
		store:      s,
		client:     client,
		maxRetries: opts.MaxRetries,
		interval:   interval,
		backoff:    b,
		log: log.Logger.With().
			Str("component", "dispatch").
			Str("run_id", uuid.NewString()).
			Logger(),
	}
}

// SendOldest makes one attempt on the oldest stored hit.
func (d *Sender) SendOldest(ctx context.Context) Result {
	hit, ok := d.store.First(ctx)
	if !ok {
		return Idle
	}
	res := d.send(ctx, hit)
	metrics.DispatchResults.WithLabelValues(res.String()).Inc()
	return res
}

func (d *Sender) send(ctx context.Context, hit core.Hit) Result {
	if d.maxRetries > 0 && hit.RetryCount >= d.maxRetries {
		if !d.store.Delete(ctx, hit.URL) {
			return Failed
		}
		d.log.Warn().Str("hit", hit.URL).Int("retries", hit.RetryCount).Msg("dropping hit after max retries")
		return Dropped
	}

	if err := d.deliver(ctx, hit.URL); err != nil {
		d.log.Warn().Err(err).Str("hit", hit.URL).Int("retries", hit.RetryCount).Msg("send failed")
		if !d.store.SetRetryCount(ctx, hit.URL, hit.RetryCount+1) {
			// Without the bump the hit never reaches MaxRetries.
			d.log.Error().Str("hit", hit.URL).Int("retries", hit.RetryCount).Msg("retry count not recorded")
			metrics.DispatchResults.WithLabelValues("retry_unrecorded").Inc()
		}
		return Failed
	}
	if !d.store.Delete(ctx, hit.URL) {
		// Delivered but still stored; the next attempt will resend it.
		return Failed
	}
	d.log.Debug().Str("hit", hit.URL).Msg("sent")
	return Sent
}

func (d *Sender) deliver(ctx context.Context, hitURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, hitURL, nil)
	if err != nil {
		return err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("collector returned %s", resp.Status)
	}
	return nil
}

// Flush sends stored hits oldest first until the store is empty or a send
// fails. It returns how many hits were delivered.
func (d *Sender) Flush(ctx context.Context) int {
	sent := 0
	for ctx.Err() == nil {
		switch d.SendOldest(ctx) {
		case Sent:
			sent++
		case Dropped:
		default:
			return sent
		}
	}
	return sent
}

// Run sends hits until ctx is done, backing off after failures and waiting
// Interval when the store is empty.
func (d *Sender) Run(ctx context.Context) {
	for {
		var wait time.Duration
		switch d.SendOldest(ctx) {
		case Sent, Dropped:
			d.backoff.Reset()
		case Failed:
			wait = d.backoff.Next()
			d.log.Debug().Dur("wait", wait).Int("failures", d.backoff.Failures()).Msg("backing off")
		case Idle:
			wait = d.interval
		}
		if wait == 0 {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}
