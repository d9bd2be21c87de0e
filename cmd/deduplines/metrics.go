package main

import (
	"go.uber.org/zap"

	"deduplines/internal/config"
	"deduplines/internal/metrics"
	"deduplines/internal/metrics/datadog"
	"deduplines/internal/metrics/prompush"
)

// setupMetrics installs the configured backend and returns a function that
// flushes it and restores the no-op backend. A backend that fails to start
// leaves metrics disabled; it never fails the run.
func setupMetrics(m config.Metrics, log *zap.Logger) func() {
	var b metrics.Backend

	switch m.Backend {
	case "pushgateway":
		pb, err := prompush.NewBackend(m.Job, m.PushgatewayURL)
		if err != nil {
			log.Warn("metrics: pushgateway backend unavailable; metrics disabled", zap.Error(err))
			return func() {}
		}
		b = pb
	case "datadog":
		db, err := datadog.NewBackend(datadog.Config{Addr: m.DatadogAddr})
		if err != nil {
			log.Warn("metrics: datadog backend unavailable; metrics disabled", zap.Error(err))
			return func() {}
		}
		b = db
	default:
		log.Debug("metrics: disabled", zap.String("backend", m.Backend))
		return func() {}
	}

	log.Debug("metrics: enabled", zap.String("backend", m.Backend), zap.String("job", m.Job))
	metrics.SetBackend(b)
	return func() {
		if err := metrics.Flush(); err != nil {
			log.Warn("metrics: flush failed", zap.Error(err))
		}
		metrics.SetBackend(metrics.Nop())
	}
}
