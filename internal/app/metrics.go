package app

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/VictoriaMetrics/metrics"

	"github.com/pvzzle/censorwatch/internal/detect"
	"github.com/pvzzle/censorwatch/internal/mempool"
	"github.com/pvzzle/censorwatch/internal/subs"
)

// newStateMetrics exposes sizes of the in-memory state. Pipeline counters live
// in the default set and are written next to it.
func newStateMetrics(tracker *mempool.Tracker, det *detect.Detector, subStore *subs.Store) *metrics.Set {
	set := metrics.NewSet()

	set.NewGauge(`censorwatch_tracked_txs`, func() float64 {
		return float64(tracker.TrackedCount())
	})
	set.NewGauge(`censorwatch_pending_txs`, func() float64 {
		return float64(tracker.PendingCount())
	})
	set.NewGauge(`censorwatch_first_seen_entries`, func() float64 {
		return float64(det.FirstSeenCount())
	})
	if subStore != nil {
		set.NewGauge(`censorwatch_alert_subscriptions`, func() float64 {
			return float64(subStore.Len())
		})
	}
	return set
}

func metricsHandler(set *metrics.Set) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.WritePrometheus(w, true)
		set.WritePrometheus(w)
	})
	return mux
}

func serveMetrics(ctx context.Context, addr string, set *metrics.Set) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           metricsHandler(set),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("[metrics] listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
