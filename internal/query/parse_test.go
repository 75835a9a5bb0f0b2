package query

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/apmwatch/apmwatch/internal/elastic"
)

// fakeSearcher returns a canned response and records the request.
type fakeSearcher struct {
	resp *elastic.SearchResponse
	err  error

	gotIndex string
	gotBody  map[string]any
}

func (f *fakeSearcher) Search(_ context.Context, index string, body any) (*elastic.SearchResponse, error) {
	f.gotIndex = index
	f.gotBody, _ = body.(map[string]any)
	return f.resp, f.err
}

func respFromJSON(t *testing.T, s string) *elastic.SearchResponse {
	t.Helper()
	var resp elastic.SearchResponse
	if err := json.Unmarshal([]byte(s), &resp); err != nil {
		t.Fatalf("unmarshal canned response: %v", err)
	}
	return &resp
}

func sourceFromJSON(t *testing.T, s string) errorSource {
	t.Helper()
	var src errorSource
	if err := json.Unmarshal([]byte(s), &src); err != nil {
		t.Fatalf("unmarshal canned source: %v", err)
	}
	return src
}

// twoServiceResponse is a realistic aggregation tree: two services, one
// environment each, 5 + 3 errors, with exception- and log-based samples.
const twoServiceResponse = `{
  "took": 21,
  "timed_out": false,
  "hits": {"total": {"value": 8, "relation": "eq"}},
  "aggregations": {
    "by_service": {
      "buckets": [
        {
          "key": "fastapi-app",
          "doc_count": 5,
          "by_environment": {
            "buckets": [
              {
                "key": "production",
                "doc_count": 5,
                "sample_errors": {
                  "hits": {
                    "hits": [
                      {
                        "_source": {
                          "@timestamp": "2026-01-15T10:29:12.345Z",
                          "kubernetes": {"pod": {"name": "fastapi-app-7d4b9-xkp2n"}},
                          "error": {
                            "culprit": "app.checkout.process_payment",
                            "exception": [
                              {"type": "ValueError", "message": "invalid card token"}
                            ]
                          }
                        }
                      },
                      {
                        "_source": {
                          "@timestamp": "2026-01-15T10:28:01.000Z",
                          "error": {
                            "log": {"message": "payment gateway returned 502", "logger_name": "gateway"}
                          }
                        }
                      }
                    ]
                  }
                }
              }
            ]
          }
        },
        {
          "key": "web-service",
          "doc_count": 3,
          "by_environment": {
            "buckets": [
              {
                "key": "staging",
                "doc_count": 3,
                "sample_errors": {
                  "hits": {
                    "hits": [
                      {
                        "_source": {
                          "@timestamp": "2026-01-15T10:27:44.100Z",
                          "error": {"grouping_name": "TemplateNotFound"}
                        }
                      }
                    ]
                  }
                }
              }
            ]
          }
        }
      ]
    }
  }
}`

func TestRun_ParsesReport(t *testing.T) {
	fake := &fakeSearcher{resp: respFromJSON(t, twoServiceResponse)}

	report, err := Run(context.Background(), fake, testParams(), baseTime)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if report.Total != 8 {
		t.Errorf("Total: got %d, want 8", report.Total)
	}
	if len(report.Buckets) != 2 {
		t.Fatalf("Buckets: got %d, want 2", len(report.Buckets))
	}
	if !report.QueriedAt.Equal(baseTime) {
		t.Errorf("QueriedAt: got %v, want %v", report.QueriedAt, baseTime)
	}

	// Store order preserved: count-descending as returned.
	b0 := report.Buckets[0]
	if b0.Service != "fastapi-app" || b0.Environment != "production" || b0.Count != 5 {
		t.Errorf("Buckets[0]: got %s/%s count %d", b0.Service, b0.Environment, b0.Count)
	}
	b1 := report.Buckets[1]
	if b1.Service != "web-service" || b1.Environment != "staging" || b1.Count != 3 {
		t.Errorf("Buckets[1]: got %s/%s count %d", b1.Service, b1.Environment, b1.Count)
	}

	if len(b0.Samples) != 2 {
		t.Fatalf("Buckets[0] samples: got %d, want 2", len(b0.Samples))
	}
	s0 := b0.Samples[0]
	if s0.Message != "invalid card token" || s0.Type != "ValueError" {
		t.Errorf("sample 0: got message %q type %q", s0.Message, s0.Type)
	}
	if !s0.Culprit.Valid || s0.Culprit.String != "app.checkout.process_payment" {
		t.Errorf("sample 0 culprit: got %+v", s0.Culprit)
	}
	if !s0.Pod.Valid || s0.Pod.String != "fastapi-app-7d4b9-xkp2n" {
		t.Errorf("sample 0 pod: got %+v", s0.Pod)
	}

	s1 := b0.Samples[1]
	if s1.Message != "payment gateway returned 502" || s1.Type != "gateway" {
		t.Errorf("sample 1: got message %q type %q", s1.Message, s1.Type)
	}
	if s1.Culprit.Valid || s1.Pod.Valid {
		t.Errorf("sample 1 optional fields should be null: %+v %+v", s1.Culprit, s1.Pod)
	}
}

func TestRun_PassesIndexAndBuiltBody(t *testing.T) {
	fake := &fakeSearcher{resp: respFromJSON(t, `{"hits":{"total":{"value":0}},"aggregations":{}}`)}

	p := testParams()
	if _, err := Run(context.Background(), fake, p, baseTime); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if fake.gotIndex != "logs-apm.error*" {
		t.Errorf("index: got %q", fake.gotIndex)
	}
	if fake.gotBody["size"] != 0 {
		t.Errorf("body not built by Build: %v", fake.gotBody)
	}
}

func TestRun_SearchErrorIsConnectivityFailure(t *testing.T) {
	fake := &fakeSearcher{err: errors.New("connection refused")}

	_, err := Run(context.Background(), fake, testParams(), baseTime)
	if err == nil {
		t.Fatal("expected error when search fails, got nil")
	}
	if !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("error should wrap the transport failure: %v", err)
	}
}

func TestRun_ZeroBucketsIsEmptyReport(t *testing.T) {
	fake := &fakeSearcher{resp: respFromJSON(t, `{
		"hits": {"total": {"value": 0, "relation": "eq"}},
		"aggregations": {"by_service": {"buckets": []}}
	}`)}

	report, err := Run(context.Background(), fake, testParams(), baseTime)
	if err != nil {
		t.Fatalf("Run on empty tree: %v", err)
	}
	if report.Total != 0 || len(report.Buckets) != 0 {
		t.Errorf("empty tree: got total %d, %d buckets", report.Total, len(report.Buckets))
	}
}

func TestParse_NoAggregations(t *testing.T) {
	report, err := parseReport(respFromJSON(t, `{"hits":{"total":{"value":0}}}`), baseTime)
	if err != nil {
		t.Fatalf("parseReport: %v", err)
	}
	if report.Total != 0 || len(report.Buckets) != 0 {
		t.Errorf("missing aggregations: got total %d, %d buckets", report.Total, len(report.Buckets))
	}
}

func TestParse_MissingEnvironmentsFallsBackToUnknown(t *testing.T) {
	resp := respFromJSON(t, `{
		"aggregations": {"by_service": {"buckets": [
			{"key": "legacy-app", "doc_count": 7}
		]}}
	}`)

	report, err := parseReport(resp, baseTime)
	if err != nil {
		t.Fatalf("parseReport: %v", err)
	}
	if len(report.Buckets) != 1 {
		t.Fatalf("Buckets: got %d, want 1", len(report.Buckets))
	}
	b := report.Buckets[0]
	if b.Service != "legacy-app" || b.Environment != "unknown" || b.Count != 7 {
		t.Errorf("fallback bucket: got %s/%s count %d", b.Service, b.Environment, b.Count)
	}
	if len(b.Samples) != 0 {
		t.Errorf("fallback bucket should carry no samples, got %d", len(b.Samples))
	}
	if report.Total != 7 {
		t.Errorf("Total: got %d, want 7", report.Total)
	}
}

func TestParse_MalformedAggregation(t *testing.T) {
	resp := &elastic.SearchResponse{
		Aggregations: map[string]json.RawMessage{
			"by_service": json.RawMessage(`{"buckets": "not-a-list"}`),
		},
	}
	if _, err := parseReport(resp, baseTime); err == nil {
		t.Fatal("expected error for malformed aggregation, got nil")
	}
}

func TestParse_SampleCap(t *testing.T) {
	// Four hits in the response; the report must keep at most three.
	hits := make([]string, 4)
	for i := range hits {
		hits[i] = `{"_source": {"@timestamp": "2026-01-15T10:00:00Z", "message": "m"}}`
	}
	resp := respFromJSON(t, `{
		"aggregations": {"by_service": {"buckets": [{
			"key": "svc", "doc_count": 4,
			"by_environment": {"buckets": [{
				"key": "prod", "doc_count": 4,
				"sample_errors": {"hits": {"hits": [`+strings.Join(hits, ",")+`]}}
			}]}
		}]}}
	}`)

	report, err := parseReport(resp, baseTime)
	if err != nil {
		t.Fatalf("parseReport: %v", err)
	}
	if got := len(report.Buckets[0].Samples); got != 3 {
		t.Errorf("samples: got %d, want capped at 3", got)
	}
}

// --- Sample field extraction ---

func TestExtractSample_MessageFallbacks(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "log message wins",
			doc: `{"message": "top", "error": {
				"log": {"message": "from log"},
				"exception": [{"message": "from exception"}],
				"grouping_name": "grp"}}`,
			want: "from log",
		},
		{
			name: "exception message next",
			doc: `{"message": "top", "error": {
				"exception": [{"message": "from exception"}],
				"grouping_name": "grp"}}`,
			want: "from exception",
		},
		{
			name: "top-level message next",
			doc:  `{"message": "top", "error": {"grouping_name": "grp"}}`,
			want: "top",
		},
		{
			name: "grouping name next",
			doc:  `{"error": {"grouping_name": "grp"}}`,
			want: "grp",
		},
		{
			name: "last resort",
			doc:  `{"error": {}}`,
			want: "Unknown error",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := extractSample(sourceFromJSON(t, tc.doc))
			if got.Message != tc.want {
				t.Errorf("Message: got %q, want %q", got.Message, tc.want)
			}
		})
	}
}

func TestExtractSample_TypeFallbacks(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "exception type wins",
			doc: `{"error": {
				"exception": [{"type": "ValueError"}],
				"log": {"logger_name": "django.request"},
				"grouping_name": "grp"}}`,
			want: "ValueError",
		},
		{
			name: "logger name next",
			doc: `{"error": {
				"log": {"logger_name": "django.request"},
				"grouping_name": "grp"}}`,
			want: "django.request",
		},
		{
			name: "grouping name next",
			doc:  `{"error": {"grouping_name": "grp"}}`,
			want: "grp",
		},
		{
			name: "last resort",
			doc:  `{"error": {}}`,
			want: "Log Error",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := extractSample(sourceFromJSON(t, tc.doc))
			if got.Type != tc.want {
				t.Errorf("Type: got %q, want %q", got.Type, tc.want)
			}
		})
	}
}

func TestExtractSample_TruncatesLongMessage(t *testing.T) {
	long := strings.Repeat("x", 6*maxSampleMessageLen)
	src := sourceFromJSON(t, `{"error": {"log": {"message": "`+long+`"}}}`)

	got := extractSample(src)
	if len(got.Message) != maxSampleMessageLen+3 {
		t.Errorf("truncated length: got %d, want %d", len(got.Message), maxSampleMessageLen+3)
	}
	if !strings.HasSuffix(got.Message, "...") {
		t.Errorf("truncated message should end with ellipsis: %q", got.Message[len(got.Message)-10:])
	}
}

func TestExtractSample_ShortMessageUntouched(t *testing.T) {
	src := sourceFromJSON(t, `{"error": {"log": {"message": "short"}}}`)
	if got := extractSample(src); got.Message != "short" {
		t.Errorf("Message: got %q, want short", got.Message)
	}
}

func TestExtractSample_Timestamp(t *testing.T) {
	src := sourceFromJSON(t, `{"@timestamp": "2026-01-15T10:29:12.345Z", "message": "m"}`)
	if got := extractSample(src); got.Timestamp != "2026-01-15T10:29:12.345Z" {
		t.Errorf("Timestamp: got %q", got.Timestamp)
	}
}
