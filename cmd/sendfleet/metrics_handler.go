package main

import (
	"encoding/json"
	"net/http"

	"sendfleet/internal/metrics"
	"sendfleet/internal/service"
	"sendfleet/internal/tracing"

	"github.com/sirupsen/logrus"
)

// handleMetrics serves a JSON snapshot of the in-memory metrics registry.
func (s *Server) handleMetrics() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		info := tracing.Info(r.Context())

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")

		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(metrics.Snapshot()); err != nil {
			s.logger.WithFields(logrus.Fields{
				service.LogFieldRequestID: info.RequestID,
				service.LogFieldTraceID:   info.TraceID,
			}).WithError(err).Error("Failed to encode metrics response")
			http.Error(w, "Internal server error", http.StatusInternalServerError)
		}
	}
}
