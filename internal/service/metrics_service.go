package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the API and
// the bulk operation coordinator.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	operationItems  *prometheus.CounterVec
	operationsDone  *prometheus.CounterVec
	conflictsFound  *prometheus.CounterVec
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	operationItems := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bulk_operation_items_total",
		Help: "Processed bulk operation items by kind and outcome",
	}, []string{"kind", "outcome"})

	operationsDone := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bulk_operations_finished_total",
		Help: "Finished bulk operations by kind and terminal status",
	}, []string{"kind", "status"})

	conflictsFound := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "schedule_conflicts_detected_total",
		Help: "Detected schedule conflicts by type",
	}, []string{"type"})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, operationItems, operationsDone, conflictsFound, cacheHits, cacheMisses, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:        registry,
		handler:         handler,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		operationItems:  operationItems,
		operationsDone:  operationsDone,
		conflictsFound:  conflictsFound,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// ObserveOperationItem counts one processed bulk operation item.
func (m *MetricsService) ObserveOperationItem(kind string, succeeded bool) {
	if m == nil {
		return
	}
	outcome := "failed"
	if succeeded {
		outcome = "succeeded"
	}
	m.operationItems.WithLabelValues(kind, outcome).Inc()
}

// ObserveOperationFinished counts one finished bulk operation.
func (m *MetricsService) ObserveOperationFinished(kind, status string) {
	if m == nil {
		return
	}
	m.operationsDone.WithLabelValues(kind, status).Inc()
}

// ObserveConflict counts one detected schedule conflict.
func (m *MetricsService) ObserveConflict(conflictType string) {
	if m == nil {
		return
	}
	m.conflictsFound.WithLabelValues(conflictType).Inc()
}

// RecordCacheOperation counts cache lookups.
func (m *MetricsService) RecordCacheOperation(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheHits.Inc()
	} else {
		m.cacheMisses.Inc()
	}
}
