package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/okian/greenpoints/pkg/metrics"
)

// handleMetrics serves the custom Prometheus registry. /healthz answers with
// the same payload, so a scrape doubles as a liveness probe.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}).ServeHTTP(w, r)
}
