// Package metrics exposes Prometheus instrumentation for turns, chunks and HTTP traffic.
package metrics

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "voicechat"

var (
	latencyBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120}
	chunkBuckets   = []float64{1, 2, 3, 5, 8, 13, 21}
)

// Provider owns a private registry and the collectors registered on it. A nil Provider
// is valid and records nothing.
type Provider struct {
	registry      *prometheus.Registry
	handler       http.Handler
	httpRequests  *prometheus.CounterVec
	httpLatency   *prometheus.HistogramVec
	turns         *prometheus.CounterVec
	turnLatency   *prometheus.HistogramVec
	turnChunks    prometheus.Histogram
	chunkLatency  *prometheus.HistogramVec
	workerEvents  *prometheus.CounterVec
	chatLatency   *prometheus.HistogramVec
	characterSize prometheus.Gauge
}

// New creates a provider with all collectors registered.
func New() (*Provider, error) {
	registry := prometheus.NewRegistry()

	provider := &Provider{
		registry: registry,
		handler:  promhttp.HandlerFor(registry, promhttp.HandlerOpts{EnableOpenMetrics: true}),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed.",
			},
			[]string{"method", "route", "status"},
		),
		httpLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds.",
				Buckets:   latencyBuckets,
			},
			[]string{"method", "route", "status"},
		),
		turns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "turns_total",
				Help:      "Total number of turns by outcome.",
			},
			[]string{"outcome"},
		),
		turnLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "turn_duration_seconds",
				Help:      "Wall time of a turn from validation to the final artifact.",
				Buckets:   latencyBuckets,
			},
			[]string{"outcome"},
		),
		turnChunks: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_chunks",
			Help:      "Number of chunks generated per turn.",
			Buckets:   chunkBuckets,
		}),
		chunkLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "chunk_generation_duration_seconds",
				Help:      "Duration of one generator invocation.",
				Buckets:   latencyBuckets,
			},
			[]string{"outcome"},
		),
		workerEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "worker_events_total",
				Help:      "Events handled by the NATS worker by result.",
			},
			[]string{"result"},
		),
		chatLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "chat_request_duration_seconds",
				Help:      "Duration of upstream chat and understanding requests.",
				Buckets:   latencyBuckets,
			},
			[]string{"kind", "status"},
		),
		characterSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "characters",
			Help:      "Number of characters in the catalog.",
		}),
	}

	collectors := []prometheus.Collector{
		provider.httpRequests,
		provider.httpLatency,
		provider.turns,
		provider.turnLatency,
		provider.turnChunks,
		provider.chunkLatency,
		provider.workerEvents,
		provider.chatLatency,
		provider.characterSize,
	}

	for _, collector := range collectors {
		registerErr := registry.Register(collector)
		if registerErr != nil {
			return nil, fmt.Errorf("failed to register collector: %w", registerErr)
		}
	}

	return provider, nil
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Provider) Handler() http.Handler {
	if p == nil {
		return nil
	}

	return p.handler
}

// Registry exposes the underlying registry for gathering in tests and tools.
func (p *Provider) Registry() *prometheus.Registry {
	if p == nil {
		return nil
	}

	return p.registry
}

// RecordHTTPRequest counts one HTTP request and its latency.
func (p *Provider) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	if p == nil {
		return
	}

	statusLabel := strconv.Itoa(status)
	p.httpRequests.WithLabelValues(method, route, statusLabel).Inc()
	p.httpLatency.WithLabelValues(method, route, statusLabel).Observe(duration.Seconds())
}

// ObserveTurn records a finished turn.
func (p *Provider) ObserveTurn(outcome string, chunks int, elapsed time.Duration) {
	if p == nil {
		return
	}

	p.turns.WithLabelValues(outcome).Inc()
	p.turnLatency.WithLabelValues(outcome).Observe(elapsed.Seconds())

	if chunks > 0 {
		p.turnChunks.Observe(float64(chunks))
	}
}

// ObserveChunk records one generator invocation.
func (p *Provider) ObserveChunk(outcome string, elapsed time.Duration) {
	if p == nil {
		return
	}

	p.chunkLatency.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// RecordWorkerEvent counts one event handled by the NATS worker.
func (p *Provider) RecordWorkerEvent(result string) {
	if p == nil {
		return
	}

	p.workerEvents.WithLabelValues(result).Inc()
}

// RecordChat records the latency of an upstream chat or understanding call.
func (p *Provider) RecordChat(kind string, err error, duration time.Duration) {
	if p == nil {
		return
	}

	status := "ok"
	if err != nil {
		status = "error"
	}

	p.chatLatency.WithLabelValues(kind, status).Observe(duration.Seconds())
}

// SetCharacterCount publishes the catalog size.
func (p *Provider) SetCharacterCount(count int) {
	if p == nil {
		return
	}

	p.characterSize.Set(float64(count))
}
