package vector

import (
	"context"
	"time"

	"github.com/localrivet/researchmemory/internal/telemetry"
)

// HealthStatus represents the health status of the embedder
type HealthStatus string

const (
	// StatusHealthy indicates the probe embedding succeeded
	StatusHealthy HealthStatus = "healthy"

	// StatusDegraded indicates the probe succeeded but earlier calls failed
	StatusDegraded HealthStatus = "degraded"

	// StatusUnhealthy indicates the probe failed
	StatusUnhealthy HealthStatus = "unhealthy"

	// StatusDisabled indicates no embedder is configured
	StatusDisabled HealthStatus = "disabled"
)

// HealthReport contains information about the current health of the embedder
type HealthReport struct {
	Status         HealthStatus     `json:"status"`
	Timestamp      time.Time        `json:"timestamp"`
	Provider       string           `json:"provider,omitempty"`
	Dimensions     int              `json:"dimensions,omitempty"`
	ProbeError     string           `json:"probe_error,omitempty"`
	ProbeLatencyMS float64          `json:"probe_latency_ms"`
	AvgLatencyMS   float64          `json:"avg_latency_ms"`
	CacheStats     map[string]int64 `json:"cache_stats"`
	SuccessRate    float64          `json:"success_rate"`
	TotalRequests  int64            `json:"total_requests"`
}

const healthProbeText = "research memory embedder health check"

// CreateHealthReport probes emb with a short text and summarizes the
// embedder metrics. A nil embedder reports StatusDisabled.
func CreateHealthReport(ctx context.Context, emb Embedder, m *telemetry.MetricsCollector) *HealthReport {
	report := &HealthReport{
		Status:     StatusDisabled,
		Timestamp:  time.Now(),
		CacheStats: map[string]int64{},
	}

	if m != nil {
		calls := m.GetCounter(telemetry.MetricEmbedCalls)
		failures := m.GetCounter(telemetry.MetricEmbedFailures)
		report.TotalRequests = calls
		if calls > 0 {
			report.SuccessRate = float64(calls-failures) / float64(calls) * 100.0
		}
		report.AvgLatencyMS = float64(m.GetTimerAverage(telemetry.MetricEmbedDuration)) / float64(time.Millisecond)
		report.CacheStats["hits"] = m.GetCounter(telemetry.MetricCacheHits)
		report.CacheStats["misses"] = m.GetCounter(telemetry.MetricCacheMisses)
		report.CacheStats["size"] = int64(m.GetGauge(telemetry.MetricCacheSize))
	}

	if emb == nil {
		return report
	}

	report.Provider = emb.Name()
	report.Dimensions = emb.Dimensions()

	probe := emb
	if cached, ok := emb.(*CachedEmbedder); ok {
		probe = cached.Unwrap()
	}

	start := time.Now()
	vec, err := probe.CreateEmbedding(ctx, healthProbeText)
	report.ProbeLatencyMS = float64(time.Since(start)) / float64(time.Millisecond)

	switch {
	case err != nil:
		report.Status = StatusUnhealthy
		report.ProbeError = err.Error()
	case len(vec) == 0:
		report.Status = StatusUnhealthy
		report.ProbeError = "empty embedding"
	case report.TotalRequests > 0 && report.SuccessRate < 100:
		report.Status = StatusDegraded
	default:
		report.Status = StatusHealthy
		if report.Dimensions == 0 {
			report.Dimensions = len(vec)
		}
	}

	return report
}
