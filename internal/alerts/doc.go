// Package alerts routes error buckets to webhook destinations and delivers
// the alert payloads. Each service resolves to one target (exact override,
// then partial override, then the default webhook); a summary rollup of the
// whole cycle always goes to the default webhook.
package alerts
