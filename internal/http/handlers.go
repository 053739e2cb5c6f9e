package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"

	"github.com/roniherschmann/go-hitstore/internal/config"
	"github.com/roniherschmann/go-hitstore/internal/core"
	"github.com/roniherschmann/go-hitstore/internal/metrics"
	"github.com/roniherschmann/go-hitstore/internal/rewrite"
)

type Router struct {
	cfg     config.Config
	hits    *core.HitStore
	limiter *rateLimiter
	now     func() time.Time
}

func NewRouter(cfg config.Config, hits *core.HitStore) http.Handler {
	r := chi.NewRouter()
	// Logging middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(hlog.NewHandler(log.Logger))
	r.Use(hlog.RequestIDHandler("req_id", "Request-Id"))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, dur time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", dur).
			Msg("request")
	}))
	r.Use(middleware.Recoverer)

	api := &Router{
		cfg:     cfg,
		hits:    hits,
		limiter: newRateLimiter(cfg.IngestRateRPS, cfg.IngestRateBurst),
		now:     time.Now,
	}

	r.MethodFunc(http.MethodGet, "/healthz", api.handleHealth)
	r.MethodFunc(http.MethodGet, "/readyz", api.handleReady)

	// Metrics
	r.MethodFunc(http.MethodGet, "/metrics", metrics.Handler)

	r.Route("/api/v1/hits", func(r chi.Router) {
		r.Get("/", api.handleGet)
		r.Get("/count", api.handleCount)
		r.Get("/first", api.handleFirst)
		r.Get("/last", api.handleLast)
		r.Post("/", api.handleInsert)
		r.Post("/batch", api.handleBatch)
		r.With(api.requireAdmin).Delete("/", api.handleDelete)
	})

	return r
}

type insertReq struct {
	URL string `json:"url"`
	OLT string `json:"olt,omitempty"`
}

type insertResp struct {
	Hit string `json:"hit"`
}

type batchReq struct {
	URLs []string `json:"urls"`
}

type batchResp struct {
	BatchID string `json:"batch_id"`
	OLT     string `json:"olt"`
	Queued  int    `json:"queued"`
	Dropped int    `json:"dropped"`
}

type countResp struct {
	Count int `json:"count"`
}

type deleteResp struct {
	Deleted int `json:"deleted"`
}

func (rt *Router) handleInsert(w http.ResponseWriter, r *http.Request) {
	if !rt.limiter.Allow(clientIP(r)) {
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	var req insertReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	raw := strings.TrimSpace(req.URL)
	if raw == "" {
		http.Error(w, "url is required", http.StatusBadRequest)
		return
	}

	hit, ok := rt.hits.Insert(r.Context(), raw, strings.TrimSpace(req.OLT))
	if !ok {
		http.Error(w, "offline storage unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, insertResp{Hit: hit}, http.StatusCreated)
}

// handleBatch queues a multihit batch. Every hit shares one origin time.
func (rt *Router) handleBatch(w http.ResponseWriter, r *http.Request) {
	if !rt.limiter.Allow(clientIP(r)) {
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	var req batchReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if len(req.URLs) == 0 {
		http.Error(w, "urls is required", http.StatusBadRequest)
		return
	}

	resp := batchResp{
		BatchID: uuid.NewString(),
		OLT:     rewrite.FormatOriginTime(rt.now()),
	}
	for _, u := range req.URLs {
		if u = strings.TrimSpace(u); u == "" {
			continue
		}
		if rt.hits.Enqueue(u, resp.OLT) {
			resp.Queued++
		} else {
			resp.Dropped++
		}
	}
	hlog.FromRequest(r).Debug().
		Str("batch_id", resp.BatchID).
		Int("queued", resp.Queued).
		Int("dropped", resp.Dropped).
		Msg("batch enqueued")
	writeJSON(w, resp, http.StatusAccepted)
}

func (rt *Router) handleGet(w http.ResponseWriter, r *http.Request) {
	if hit := r.URL.Query().Get("hit"); hit != "" {
		h, ok := rt.hits.Get(r.Context(), hit)
		if !ok {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, h, http.StatusOK)
		return
	}
	writeJSON(w, rt.hits.All(r.Context()), http.StatusOK)
}

func (rt *Router) handleCount(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, countResp{Count: rt.hits.Count(r.Context())}, http.StatusOK)
}

func (rt *Router) handleFirst(w http.ResponseWriter, r *http.Request) {
	h, ok := rt.hits.First(r.Context())
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, h, http.StatusOK)
}

func (rt *Router) handleLast(w http.ResponseWriter, r *http.Request) {
	h, ok := rt.hits.Last(r.Context())
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, h, http.StatusOK)
}

func (rt *Router) handleDelete(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	switch {
	case q.Get("hit") != "":
		if !rt.hits.Delete(r.Context(), q.Get("hit")) {
			http.Error(w, "delete failed", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case q.Get("older_than") != "":
		cutoff, err := time.Parse(time.RFC3339Nano, q.Get("older_than"))
		if err != nil {
			http.Error(w, "older_than must be RFC3339", http.StatusBadRequest)
			return
		}
		rt.writeDeleted(w, rt.hits.DeleteOlderThan(r.Context(), cutoff))
	default:
		rt.writeDeleted(w, rt.hits.DeleteAll(r.Context()))
	}
}

func (rt *Router) writeDeleted(w http.ResponseWriter, n int) {
	if n < 0 {
		http.Error(w, "delete failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, deleteResp{Deleted: n}, http.StatusOK)
}

// requireAdmin guards destructive endpoints when an admin token is configured.
func (rt *Router) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rt.cfg.AdminToken != "" {
			token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(token), []byte(rt.cfg.AdminToken)) != 1 {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (rt *Router) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (rt *Router) handleReady(w http.ResponseWriter, r *http.Request) {
	if !rt.hits.Available(r.Context()) {
		http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ready"))
}

func writeJSON(w http.ResponseWriter, v any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func clientIP(r *http.Request) string {
	// Try X-Forwarded-For or Real-IP first
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if rip := r.Header.Get("X-Real-Ip"); rip != "" {
		return rip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
