package seed

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/apmwatch/apmwatch/internal/config"
	"github.com/apmwatch/apmwatch/internal/elastic"
)

// spreadMinutes is how far back generated timestamps reach. It matches the
// monitor's default lookback, so a seed run is visible to the very next
// cycle.
const spreadMinutes = 5

const timestampFormat = "2006-01-02T15:04:05.000Z07:00"

// Indexer is the slice of the store client the injector needs.
type Indexer interface {
	Index(ctx context.Context, index string, doc any, refresh bool) (*elastic.IndexResult, error)
}

// Document is one synthetic APM error in the shape the APM integration
// writes to the store.
type Document struct {
	Timestamp   string      `json:"@timestamp"`
	Processor   Processor   `json:"processor"`
	Service     Service     `json:"service"`
	Error       ErrorDetail `json:"error"`
	Transaction Transaction `json:"transaction"`
	Labels      Labels      `json:"labels"`
}

type Processor struct {
	Event string `json:"event"`
}

type Service struct {
	Name        string `json:"name"`
	Environment string `json:"environment"`
	Version     string `json:"version"`
}

type ErrorDetail struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Message   string      `json:"message"`
	Exception []Exception `json:"exception"`
}

type Exception struct {
	Type       string       `json:"type"`
	Message    string       `json:"message"`
	Stacktrace []StackFrame `json:"stacktrace"`
}

type StackFrame struct {
	Filename string `json:"filename"`
	Line     Line   `json:"line"`
	Function string `json:"function"`
}

type Line struct {
	Number int `json:"number"`
}

type Transaction struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

type Labels struct {
	Test     string `json:"test"`
	MockData string `json:"mock_data"`
}

// Result summarizes one injection run.
type Result struct {
	Injected int
	Failed   int
}

// Run injects cfg.Count documents, each with a random service and
// environment from the configured pools and a timestamp spread over the
// last five minutes. Every document is indexed with refresh so it is
// searchable immediately. Indexing failures are logged and counted; Run
// itself fails only when a pool is empty.
func Run(ctx context.Context, idx Indexer, cfg config.SeedConfig, now time.Time) (Result, error) {
	if len(cfg.Services) == 0 || len(cfg.Environments) == 0 {
		return Result{}, fmt.Errorf("seed: service and environment pools must not be empty")
	}

	slog.Info("seed: injecting mock errors",
		"count", cfg.Count,
		"services", len(cfg.Services),
		"environments", len(cfg.Environments),
	)

	rng := rand.New(rand.NewSource(now.UnixNano()))
	var res Result
	for i := 0; i < cfg.Count; i++ {
		service := cfg.Services[rng.Intn(len(cfg.Services))]
		environment := cfg.Environments[rng.Intn(len(cfg.Environments))]
		ts := now.Add(-time.Duration(rng.Int63n(int64(spreadMinutes * time.Minute))))

		doc := newDocument(service, environment, ts)
		resp, err := idx.Index(ctx, indexName(cfg.IndexPrefix, ts), doc, true)
		if err != nil {
			res.Failed++
			slog.Error("seed: index failed",
				"service", service,
				"environment", environment,
				"err", err,
			)
			continue
		}
		if resp.Result != "created" && resp.Result != "updated" {
			res.Failed++
			slog.Warn("seed: unexpected index result", "result", resp.Result)
			continue
		}
		res.Injected++
		slog.Debug("seed: injected",
			"service", service,
			"environment", environment,
			"timestamp", doc.Timestamp,
		)
	}

	slog.Info("seed: injection complete",
		"injected", res.Injected,
		"failed", res.Failed,
	)
	return res, nil
}

func newDocument(service, environment string, ts time.Time) Document {
	id := ts.UnixNano()
	return Document{
		Timestamp: ts.UTC().Format(timestampFormat),
		Processor: Processor{Event: "error"},
		Service: Service{
			Name:        service,
			Environment: environment,
			Version:     "1.0.0",
		},
		Error: ErrorDetail{
			ID:      fmt.Sprintf("error-%d", id),
			Type:    "Exception",
			Message: fmt.Sprintf("Mock error in %s (%s)", service, environment),
			Exception: []Exception{{
				Type:    "ValueError",
				Message: "This is a test error for monitoring validation",
				Stacktrace: []StackFrame{{
					Filename: "app.py",
					Line:     Line{Number: 42},
					Function: "process_request",
				}},
			}},
		},
		Transaction: Transaction{
			ID:   fmt.Sprintf("tx-%d", id),
			Type: "request",
		},
		Labels: Labels{Test: "true", MockData: "true"},
	}
}

// indexName forms the daily index for ts, e.g. "apm-8.0.0-error-2024.01.15".
func indexName(prefix string, ts time.Time) string {
	return prefix + ts.UTC().Format("2006.01.02")
}
