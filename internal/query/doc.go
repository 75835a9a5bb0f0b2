// Package query builds and executes the APM error aggregation: a filtered,
// zero-hit search grouping error documents by service then environment,
// with the newest three documents of each group attached as samples. The
// response is parsed into a Report of ordered Buckets; bucket order is the
// store's count-descending default and is never re-sorted.
package query
