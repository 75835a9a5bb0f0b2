package alerts

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/apmwatch/apmwatch/internal/config"
	"github.com/apmwatch/apmwatch/internal/query"
)

const (
	serviceAlertType = "apm_error"
	summaryAlertType = "apm_error_summary"

	// firedAtFormat renders the cycle timestamp in UTC with millisecond
	// precision, e.g. "2024-01-15T10:30:00.000Z".
	firedAtFormat = "2006-01-02T15:04:05.000Z"
)

// Outcome kinds.
const (
	KindService = "service"
	KindSummary = "summary"
)

// ServiceAlert is the webhook payload for one (service, environment)
// error bucket.
type ServiceAlert struct {
	AlertType   string   `json:"alert_type"`
	Service     string   `json:"service"`
	ActualValue int64    `json:"actual_value"`
	Environment string   `json:"environment"`
	FiredAt     string   `json:"fired_at"`
	Samples     []string `json:"samples,omitempty"`
}

// SummaryAlert is the rollup payload delivered to the default webhook
// after all per-service alerts have been attempted.
type SummaryAlert struct {
	AlertType        string         `json:"alert_type"`
	TotalErrors      int64          `json:"total_errors"`
	AffectedServices int            `json:"affected_services"`
	Breakdown        []ServiceCount `json:"errors_by_service_env"`
	FiredAt          string         `json:"fired_at"`
}

// ServiceCount is one row of the summary breakdown.
type ServiceCount struct {
	Service     string `json:"service"`
	Environment string `json:"environment"`
	ErrorCount  int64  `json:"error_count"`
}

// Outcome records one webhook delivery attempt within a cycle.
type Outcome struct {
	Kind    string // KindService or KindSummary
	Service string // originating service, empty for the summary
	Target  Target
	Err     error
}

// Dispatcher turns an error report into webhook deliveries: one alert per
// non-empty bucket, routed per service, followed by one summary to the
// default webhook. Deliveries are strictly sequential and a failure never
// stops the remaining attempts.
type Dispatcher struct {
	router *Router
	sender *sender
}

// New creates a Dispatcher from the alert configuration.
func New(cfg config.AlertsConfig) *Dispatcher {
	return &Dispatcher{
		router: NewRouter(cfg),
		sender: newSender(cfg.Timeout),
	}
}

// Dispatch delivers alerts for every bucket in report with a non-zero
// count, then the cycle summary. It returns one Outcome per attempt, in
// attempt order. A report with zero errors produces no deliveries.
func (d *Dispatcher) Dispatch(ctx context.Context, report *query.Report) []Outcome {
	if report.Total == 0 {
		return nil
	}

	firedAt := report.QueriedAt.UTC().Format(firedAtFormat)
	outcomes := make([]Outcome, 0, len(report.Buckets)+1)

	for _, b := range report.Buckets {
		if b.Count == 0 {
			slog.Debug("alerts: skipping empty bucket",
				"service", b.Service,
				"environment", b.Environment,
			)
			continue
		}

		target := d.router.Resolve(b.Service)
		err := d.sender.post(ctx, target.URL, ServiceAlert{
			AlertType:   serviceAlertType,
			Service:     b.Service,
			ActualValue: b.Count,
			Environment: b.Environment,
			FiredAt:     firedAt,
			Samples:     formatSamples(b.Samples),
		})
		if err != nil {
			slog.Error("alerts: webhook delivery failed",
				"target", target.Label,
				"service", b.Service,
				"err", err,
			)
		} else {
			slog.Debug("alerts: webhook delivered",
				"target", target.Label,
				"service", b.Service,
				"environment", b.Environment,
				"count", b.Count,
			)
		}
		outcomes = append(outcomes, Outcome{
			Kind:    KindService,
			Service: b.Service,
			Target:  target,
			Err:     err,
		})
	}

	// The rollup goes out even when per-service deliveries failed.
	target := d.router.Default()
	err := d.sender.post(ctx, target.URL, summarize(report, firedAt))
	if err != nil {
		slog.Error("alerts: summary delivery failed",
			"target", target.Label,
			"err", err,
		)
	}
	outcomes = append(outcomes, Outcome{
		Kind:   KindSummary,
		Target: target,
		Err:    err,
	})

	return outcomes
}

func summarize(report *query.Report, firedAt string) SummaryAlert {
	services := make(map[string]struct{})
	rows := make([]ServiceCount, 0, len(report.Buckets))
	for _, b := range report.Buckets {
		if b.Count == 0 {
			continue
		}
		services[b.Service] = struct{}{}
		rows = append(rows, ServiceCount{
			Service:     b.Service,
			Environment: b.Environment,
			ErrorCount:  b.Count,
		})
	}
	return SummaryAlert{
		AlertType:        summaryAlertType,
		TotalErrors:      report.Total,
		AffectedServices: len(services),
		Breakdown:        rows,
		FiredAt:          firedAt,
	}
}

func formatSamples(samples []query.Sample) []string {
	if len(samples) == 0 {
		return nil
	}
	out := make([]string, 0, len(samples))
	for _, s := range samples {
		out = append(out, formatSample(s))
	}
	return out
}

// formatSample renders one sample as "[Type] message", with the culprit
// appended when known.
func formatSample(s query.Sample) string {
	line := fmt.Sprintf("[%s] %s", s.Type, s.Message)
	if s.Culprit.Valid {
		line += " (at " + s.Culprit.String + ")"
	}
	return line
}
