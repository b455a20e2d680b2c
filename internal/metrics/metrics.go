package metrics

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "mntwatch"

var (
	// Registry is a dedicated Prometheus registry for all mntwatch metrics.
	Registry = prometheus.NewRegistry()

	// ChangesTotal counts mount table changes by the monitor that reported them.
	ChangesTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "changes_total",
			Help:      "Total number of mount table changes",
		},
		[]string{"type"}, // kernel | fanotify
	)

	// MountEventsTotal counts decoded fanotify mount events.
	MountEventsTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mount_events_total",
			Help:      "Total number of mount attach/detach events",
		},
		[]string{"action"}, // attach | detach | attach|detach
	)

	// EnableFailuresTotal counts monitors that could not be enabled.
	EnableFailuresTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enable_failures_total",
			Help:      "Total number of monitors that failed to enable",
		},
		[]string{"type"},
	)

	// LookupFailuresTotal counts mount IDs that could not be resolved.
	LookupFailuresTotal = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lookup_failures_total",
			Help:      "Total number of mount IDs not found in mountinfo",
		},
	)

	// Up is a liveness gauge for the watcher.
	Up = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "up",
			Help:      "1 if the watcher is running",
		},
	)
)

func init() {
	Registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	Registry.MustRegister(prometheus.NewGoCollector())
}

// ObserveChange counts a change reported by a monitor.
func ObserveChange(monitorType string) {
	ChangesTotal.WithLabelValues(monitorType).Inc()
}

// ObserveEvent counts a decoded mount event.
func ObserveEvent(action string) {
	MountEventsTotal.WithLabelValues(action).Inc()
}

// ObserveEnableFailure counts a monitor that failed to enable.
func ObserveEnableFailure(monitorType string) {
	EnableFailuresTotal.WithLabelValues(monitorType).Inc()
}

// SetUp toggles the liveness gauge.
func SetUp(healthy bool) {
	if healthy {
		Up.Set(1)
		return
	}
	Up.Set(0)
}

// Handler returns the /metrics handler for Registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Serve starts the /metrics HTTP endpoint on addr and stops it when ctx is done.
func Serve(ctx context.Context, addr string, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{Addr: addr, Handler: mux}

	idleClosed := make(chan struct{})
	go func() {
		defer close(idleClosed)
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()

	log.Info("metrics endpoint listening", zap.String("addr", addr))
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		<-idleClosed
		return nil
	}
	return err
}
