package query

import (
	"context"
	"fmt"
	"time"

	"github.com/apmwatch/apmwatch/internal/config"
	"github.com/apmwatch/apmwatch/internal/elastic"
)

// Aggregation sizing and sampling bounds. The terms sizes are generous
// upper bounds, not pagination: one response carries the whole tree.
const (
	maxServiceBuckets     = 1000
	maxEnvironmentBuckets = 100
	sampleSize            = 3
	maxSampleMessageLen   = 500
)

// timeFormat renders the explicit range bounds sent to the store.
// Bounds are computed client-side so the scanned window is exactly
// [now-lookback, now] at the moment of execution.
const timeFormat = "2006-01-02T15:04:05.000Z07:00"

// Params are the per-process query settings, fixed at startup.
type Params struct {
	Index           string
	LookbackMinutes int

	// Service and Environment narrow the query when non-empty.
	Service     string
	Environment string
}

// FromConfig assembles Params from the loaded configuration.
func FromConfig(cfg *config.Config) Params {
	return Params{
		Index:           cfg.Elasticsearch.Index,
		LookbackMinutes: cfg.Query.LookbackMinutes,
		Service:         cfg.Query.Service,
		Environment:     cfg.Query.Environment,
	}
}

// Searcher is the slice of the store client the query needs.
type Searcher interface {
	Search(ctx context.Context, index string, body any) (*elastic.SearchResponse, error)
}

// Run executes the aggregation for one cycle at now and parses the
// response. Any error here is a connectivity failure: the caller decides
// whether that aborts the run (one-shot) or skips the cycle (continuous).
func Run(ctx context.Context, s Searcher, p Params, now time.Time) (*Report, error) {
	resp, err := s.Search(ctx, p.Index, Build(p, now))
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	report, err := parseReport(resp, now)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	return report, nil
}

// Build returns the _search request body for one cycle executing at now:
// error-classified documents inside the lookback window, zero raw hits,
// grouped by service then environment, with samples per innermost group.
func Build(p Params, now time.Time) map[string]any {
	lower := now.Add(-time.Duration(p.LookbackMinutes) * time.Minute)
	filters := []any{
		map[string]any{"term": map[string]any{"processor.event": "error"}},
		map[string]any{"range": map[string]any{"@timestamp": map[string]any{
			"gte": lower.UTC().Format(timeFormat),
			"lte": now.UTC().Format(timeFormat),
		}}},
	}
	if p.Service != "" {
		filters = append(filters, map[string]any{"term": map[string]any{"service.name": p.Service}})
	}
	if p.Environment != "" {
		filters = append(filters, map[string]any{"term": map[string]any{"service.environment": p.Environment}})
	}

	return map[string]any{
		"query": map[string]any{"bool": map[string]any{"filter": filters}},
		"size":  0,
		"aggs": map[string]any{
			"by_service": map[string]any{
				"terms": map[string]any{
					"field":   "service.name",
					"size":    maxServiceBuckets,
					"missing": "unknown",
				},
				"aggs": map[string]any{
					"by_environment": map[string]any{
						"terms": map[string]any{
							"field":   "service.environment",
							"size":    maxEnvironmentBuckets,
							"missing": "unknown",
						},
						"aggs": map[string]any{
							"sample_errors": map[string]any{
								"top_hits": map[string]any{
									"size": sampleSize,
									"sort": []any{
										map[string]any{"@timestamp": map[string]any{"order": "desc"}},
									},
									"_source": map[string]any{
										"includes": []string{
											"error", "@timestamp", "kubernetes.pod.name", "message",
										},
									},
								},
							},
						},
					},
				},
			},
		},
	}
}
