package config

import (
	"fmt"
	"net/url"

	"deduplines/internal/shard"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError blocks the run.
	SeverityError IssueSeverity = "error"
	// SeverityWarning is reported but does not block the run.
	SeverityWarning IssueSeverity = "warning"
)

// Issue is a single validation finding.
type Issue struct {
	Severity IssueSeverity
	Path     string // dotted key, e.g. "engine.splits"
	Message  string
}

func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// Validate performs static checks on cfg without touching the filesystem.
func Validate(cfg *Config) []Issue {
	var issues []Issue
	issues = append(issues, validateEngine(cfg.Engine)...)
	issues = append(issues, validateLog(cfg.Log.Level, cfg.Log.Format)...)
	issues = append(issues, validateMetrics(cfg.Metrics)...)
	return issues
}

func validateEngine(e Engine) []Issue {
	var issues []Issue

	if e.Splits < 1 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "engine.splits",
			Message:  fmt.Sprintf("must be >= 1, got %d", e.Splits),
		})
	}
	if e.Threads < 0 {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "engine.threads",
			Message:  fmt.Sprintf("negative value %d is treated as one thread per CPU", e.Threads),
		})
	}
	if _, err := shard.ParseCompression(e.Compression); err != nil {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "engine.compression",
			Message:  err.Error(),
		})
	}
	if e.MaxShardBytes < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "engine.max_shard_bytes",
			Message:  "must be >= 0",
		})
	}
	return issues
}

func validateLog(level, format string) []Issue {
	var issues []Issue
	switch level {
	case "", "debug", "info", "warn", "error":
	default:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "log.level",
			Message:  fmt.Sprintf("unknown level %q", level),
		})
	}
	switch format {
	case "", "console", "json":
	default:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "log.format",
			Message:  fmt.Sprintf("unknown format %q", format),
		})
	}
	return issues
}

func validateMetrics(m Metrics) []Issue {
	var issues []Issue

	switch m.Backend {
	case "", "none":
	case "pushgateway":
		if m.PushgatewayURL == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "metrics.pushgateway_url",
				Message:  "required when backend is pushgateway",
			})
		} else if u, err := url.Parse(m.PushgatewayURL); err != nil || u.Scheme == "" || u.Host == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "metrics.pushgateway_url",
				Message:  fmt.Sprintf("not an absolute URL: %q", m.PushgatewayURL),
			})
		}
	case "datadog":
		if m.DatadogAddr == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "metrics.datadog_addr",
				Message:  "required when backend is datadog",
			})
		}
	default:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "metrics.backend",
			Message:  fmt.Sprintf("unknown backend %q (want none, pushgateway or datadog)", m.Backend),
		})
	}

	if m.Backend != "" && m.Backend != "none" && m.Job == "" {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "metrics.job",
			Message:  "empty job name; backend default is used",
		})
	}
	return issues
}
