package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HitsInserted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "offline_hits_inserted_total",
		Help: "Hits committed to offline storage.",
	})
	HitsDuplicate = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "offline_hits_duplicate_total",
		Help: "Inserts skipped because the hit was already stored.",
	})
	HitsDeleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "offline_hits_deleted_total",
		Help: "Hits removed from offline storage by reason.",
	}, []string{"reason"})
	StoreFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "offline_store_failures_total",
		Help: "Store operations that failed, by operation and kind (unavailable, commit).",
	}, []string{"op", "kind"})
	IngestDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "offline_ingest_dropped_total",
		Help: "Hits dropped due to full ingest buffer.",
	})
	DispatchResults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "offline_dispatch_results_total",
		Help: "Dispatch attempts by result (sent, failed, dropped).",
	}, []string{"result"})
)

func init() {
	prometheus.MustRegister(HitsInserted, HitsDuplicate, HitsDeleted, StoreFailures, IngestDropped, DispatchResults)
}

func Handler(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}
