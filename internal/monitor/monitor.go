package monitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/apmwatch/apmwatch/internal/alerts"
	"github.com/apmwatch/apmwatch/internal/config"
	"github.com/apmwatch/apmwatch/internal/metrics"
	"github.com/apmwatch/apmwatch/internal/query"
)

// Dispatcher delivers the alerts for one report.
type Dispatcher interface {
	Dispatch(ctx context.Context, report *query.Report) []alerts.Outcome
}

// Runner executes monitor cycles. Each cycle is one query against the
// error store followed by sequential alert dispatch; cycles never overlap.
type Runner struct {
	searcher   query.Searcher
	dispatcher Dispatcher
	params     query.Params
	interval   time.Duration
	metrics    *metrics.Metrics
	now        func() time.Time
}

// New wires a Runner from the loaded configuration and its collaborators.
func New(cfg *config.Config, searcher query.Searcher, dispatcher Dispatcher, m *metrics.Metrics) *Runner {
	return &Runner{
		searcher:   searcher,
		dispatcher: dispatcher,
		params:     query.FromConfig(cfg),
		interval:   cfg.Monitor.Interval.Duration(),
		metrics:    m,
		now:        time.Now,
	}
}

// RunOnce executes exactly one cycle. The returned error reflects the
// query only: webhook delivery failures are logged and counted but do not
// fail the cycle.
func (r *Runner) RunOnce(ctx context.Context) error {
	return r.runCycle(ctx)
}

// Run executes cycles at the configured interval until ctx is cancelled.
// The first cycle starts immediately. Cancellation is observed only
// between cycles, so a cycle in flight always completes before Run
// returns.
func (r *Runner) Run(ctx context.Context) {
	slog.Info("monitor: starting", "interval", r.interval)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		// Shutdown must never interrupt an in-flight query or delivery,
		// so each cycle runs detached from the loop context.
		if err := r.runCycle(context.WithoutCancel(ctx)); err != nil {
			slog.Error("monitor: cycle failed", "err", err)
		}

		select {
		case <-ctx.Done():
		case <-ticker.C:
		}
		if ctx.Err() != nil {
			slog.Info("monitor: stopping")
			return
		}
	}
}

func (r *Runner) runCycle(ctx context.Context) error {
	report, err := query.Run(ctx, r.searcher, r.params, r.now())
	if err != nil {
		r.metrics.CyclesTotal.WithLabelValues("error").Inc()
		return err
	}
	r.metrics.CyclesTotal.WithLabelValues("ok").Inc()
	r.metrics.ErrorsObserved.Add(float64(report.Total))

	if report.Total == 0 {
		slog.Info("monitor: no errors detected across all services and environments")
		return nil
	}

	slog.Info("monitor: errors detected",
		"total", report.Total,
		"buckets", len(report.Buckets),
	)

	delivered, failed := 0, 0
	for _, o := range r.dispatcher.Dispatch(ctx, report) {
		result := "ok"
		if o.Err != nil {
			result = "error"
			failed++
		} else {
			delivered++
		}
		r.metrics.AlertsTotal.WithLabelValues(o.Kind, result).Inc()
	}

	slog.Info("monitor: cycle complete",
		"delivered", delivered,
		"failed", failed,
	)
	return nil
}
