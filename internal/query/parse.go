package query

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/guregu/null/v5"

	"github.com/apmwatch/apmwatch/internal/elastic"
)

// Report is the aggregate outcome of one query execution. It is built
// fresh each cycle and discarded after dispatch.
type Report struct {
	// Total is the sum of all bucket counts.
	Total int64

	// Buckets hold one entry per (service, environment) pair, in the
	// order the store returned them.
	Buckets []Bucket

	// QueriedAt is the cycle instant used for the range bounds.
	QueriedAt time.Time
}

// Bucket is one (service, environment) error group.
type Bucket struct {
	Service     string
	Environment string
	Count       int64

	// Samples are representative documents, newest first, at most three.
	// Purely informational — they never drive routing.
	Samples []Sample
}

// Sample is one representative error document.
type Sample struct {
	Message   string
	Type      string
	Culprit   null.String
	Pod       null.String
	Timestamp string
}

// Wire shapes for the by_service aggregation tree.
type serviceAgg struct {
	Buckets []serviceBucket `json:"buckets"`
}

type serviceBucket struct {
	Key           string `json:"key"`
	DocCount      int64  `json:"doc_count"`
	ByEnvironment envAgg `json:"by_environment"`
}

type envAgg struct {
	Buckets []envBucket `json:"buckets"`
}

type envBucket struct {
	Key          string  `json:"key"`
	DocCount     int64   `json:"doc_count"`
	SampleErrors topHits `json:"sample_errors"`
}

type topHits struct {
	Hits struct {
		Hits []struct {
			Source errorSource `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// errorSource is the subset of an APM error document the query requests.
type errorSource struct {
	Timestamp  string `json:"@timestamp"`
	Message    string `json:"message"`
	Kubernetes struct {
		Pod struct {
			Name string `json:"name"`
		} `json:"pod"`
	} `json:"kubernetes"`
	Error struct {
		GroupingName string `json:"grouping_name"`
		Culprit      string `json:"culprit"`
		Log          struct {
			Message    string `json:"message"`
			LoggerName string `json:"logger_name"`
		} `json:"log"`
		Exception []struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"exception"`
	} `json:"error"`
}

// parseReport walks the aggregation tree into a Report. A response with an
// empty tree — or no aggregations at all — is a valid empty report, not an
// error: it means no errors occurred in the window.
func parseReport(resp *elastic.SearchResponse, now time.Time) (*Report, error) {
	report := &Report{QueriedAt: now}

	raw, ok := resp.Aggregations["by_service"]
	if !ok {
		return report, nil
	}

	var services serviceAgg
	if err := json.Unmarshal(raw, &services); err != nil {
		return nil, fmt.Errorf("decode by_service aggregation: %w", err)
	}

	for _, sb := range services.Buckets {
		// A service bucket without environment sub-buckets still carries a
		// doc count; surface it under "unknown" rather than dropping it.
		if len(sb.ByEnvironment.Buckets) == 0 {
			report.Buckets = append(report.Buckets, Bucket{
				Service:     sb.Key,
				Environment: "unknown",
				Count:       sb.DocCount,
			})
			report.Total += sb.DocCount
			continue
		}
		for _, eb := range sb.ByEnvironment.Buckets {
			b := Bucket{
				Service:     sb.Key,
				Environment: eb.Key,
				Count:       eb.DocCount,
			}
			hits := eb.SampleErrors.Hits.Hits
			if len(hits) > sampleSize {
				hits = hits[:sampleSize]
			}
			for _, hit := range hits {
				b.Samples = append(b.Samples, extractSample(hit.Source))
			}
			report.Buckets = append(report.Buckets, b)
			report.Total += eb.DocCount
		}
	}
	return report, nil
}

// extractSample pulls display fields out of one sample document.
//
// APM error documents come in two flavors — exception-based (an agent
// captured a thrown exception) and log-based (an error-level log record) —
// and older documents may carry only a grouping name. Each chain below
// tries the richest field first.
func extractSample(src errorSource) Sample {
	msg := src.Error.Log.Message
	if msg == "" && len(src.Error.Exception) > 0 {
		msg = src.Error.Exception[0].Message
	}
	if msg == "" {
		msg = src.Message
	}
	if msg == "" {
		msg = src.Error.GroupingName
	}
	if msg == "" {
		msg = "Unknown error"
		slog.Warn("query: sample document has no recognizable error message",
			"timestamp", src.Timestamp)
	}
	if utf8.RuneCountInString(msg) > maxSampleMessageLen {
		msg = string([]rune(msg)[:maxSampleMessageLen]) + "..."
	}

	typ := ""
	if len(src.Error.Exception) > 0 {
		typ = src.Error.Exception[0].Type
	}
	if typ == "" {
		typ = src.Error.Log.LoggerName
	}
	if typ == "" {
		typ = src.Error.GroupingName
	}
	if typ == "" {
		typ = "Log Error"
	}

	return Sample{
		Message:   msg,
		Type:      typ,
		Culprit:   optString(src.Error.Culprit),
		Pod:       optString(src.Kubernetes.Pod.Name),
		Timestamp: src.Timestamp,
	}
}

// optString wraps s as a null.String that is null when s is empty.
func optString(s string) null.String {
	return null.NewString(s, s != "")
}
