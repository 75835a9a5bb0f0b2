// Package elastic is a minimal REST client for the Elasticsearch endpoints
// apmwatch talks to: the root info endpoint for connection checks, _search
// for the error aggregation, and _doc for the mock-data seeder. Requests
// carry optional basic auth and a bounded per-request timeout; there is no
// retry layer.
package elastic
