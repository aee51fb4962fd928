package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	chatActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "unimatch_chat_actions_total",
			Help: "Total number of conversation actions dispatched, by outcome.",
		},
		[]string{"action", "result"},
	)
	snapshotsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "unimatch_snapshots_total",
			Help: "Total number of message snapshots reconciled.",
		},
	)
	markReadFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "unimatch_mark_read_failures_total",
			Help: "Total number of mark-read writes that failed and were dropped.",
		},
	)
	uploadBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "unimatch_upload_bytes",
			Help:    "Size of uploaded chat media in bytes.",
			Buckets: prometheus.ExponentialBuckets(16*1024, 4, 8),
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(
		chatActionsTotal,
		snapshotsTotal,
		markReadFailuresTotal,
		uploadBytes,
	)
}

// ObserveAction records one dispatched action; err decides the result label.
func ObserveAction(action string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	chatActionsTotal.WithLabelValues(action, result).Inc()
}

func IncSnapshot() {
	snapshotsTotal.Inc()
}

func IncMarkReadFailure() {
	markReadFailuresTotal.Inc()
}

func ObserveUpload(kind string, size int) {
	uploadBytes.WithLabelValues(kind).Observe(float64(size))
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
