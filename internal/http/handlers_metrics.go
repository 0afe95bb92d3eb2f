package http

import (
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"bizxpense/internal/services"
)

// appMetrics counts work done through the API since the server started.
type appMetrics struct {
	started time.Time

	syncRuns             atomic.Int64
	syncItemFailures     atomic.Int64
	transactionsAdded    atomic.Int64
	transactionsModified atomic.Int64
	transactionsRemoved  atomic.Int64
	webhooksReceived     atomic.Int64
	recurringProcessed   atomic.Int64
	recurringGenerated   atomic.Int64
	recurringFailures    atomic.Int64
}

func (m *appMetrics) recordSync(summary services.SyncSummary) {
	m.syncRuns.Add(1)
	m.syncItemFailures.Add(int64(len(summary.Failed())))
	m.transactionsAdded.Add(int64(summary.Added))
	m.transactionsModified.Add(int64(summary.Modified))
	m.transactionsRemoved.Add(int64(summary.Removed))
}

func (m *appMetrics) recordRecurring(res services.ProcessResult) {
	m.recurringProcessed.Add(int64(res.Processed))
	m.recurringGenerated.Add(int64(res.Generated))
	m.recurringFailures.Add(int64(len(res.Failed)))
}

func writeMetric(w io.Writer, name, kind, help string, value int64) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s %s\n", name, kind)
	fmt.Fprintf(w, "%s %d\n\n", name, value)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	traceMetrics := s.tracer.GetMetrics()
	rateLimitMetrics := s.rateLimiter.GetMetrics()
	securityMetrics := s.detector.GetMetrics()
	m := &s.metrics

	w.WriteHeader(http.StatusOK)

	// Prometheus text exposition
	writeMetric(w, "http_requests_total", "counter", "Total number of HTTP requests", traceMetrics.TotalRequests)
	writeMetric(w, "http_last_response_time_microseconds", "gauge", "Duration of the most recent request", traceMetrics.LastResponseTimeUs)
	writeMetric(w, "rate_limit_hits_total", "counter", "Total rate limit hits", rateLimitMetrics.TotalHits)
	writeMetric(w, "rate_limit_clients", "gauge", "Clients tracked by the rate limiter", rateLimitMetrics.ClientCount)
	writeMetric(w, "suspicious_requests_total", "counter", "Total suspicious requests detected", securityMetrics.SuspiciousRequests)

	writeMetric(w, "sync_runs_total", "counter", "Sync requests served", m.syncRuns.Load())
	writeMetric(w, "sync_item_failures_total", "counter", "Linked items whose sync failed", m.syncItemFailures.Load())
	writeMetric(w, "transactions_added_total", "counter", "Transactions added by sync", m.transactionsAdded.Load())
	writeMetric(w, "transactions_modified_total", "counter", "Transactions modified by sync", m.transactionsModified.Load())
	writeMetric(w, "transactions_removed_total", "counter", "Transactions removed by sync", m.transactionsRemoved.Load())
	writeMetric(w, "webhooks_received_total", "counter", "Aggregator webhooks accepted", m.webhooksReceived.Load())

	writeMetric(w, "recurring_processed_total", "counter", "Recurring templates processed", m.recurringProcessed.Load())
	writeMetric(w, "recurring_generated_total", "counter", "Expenses generated from recurring templates", m.recurringGenerated.Load())
	writeMetric(w, "recurring_failures_total", "counter", "Recurring templates that failed to process", m.recurringFailures.Load())

	writeMetric(w, "uptime_seconds", "gauge", "Time since the server started", int64(time.Since(m.started).Seconds()))
}
