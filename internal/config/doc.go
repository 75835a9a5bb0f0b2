// Package config loads and watches the apmwatch configuration.
//
// Configuration comes from two layers: an optional YAML file and the process
// environment. Load(path) applies defaults, parses the file when a path is
// given, then overlays environment variables section by section, so the
// process also runs with no file at all — the env-only mode used by CronJob
// deployments (ELASTICSEARCH_HOST, SLACK_WEBHOOK, SERVICE_WEBHOOKS,
// LOOKBACK_MINUTES, MONITOR_INTERVAL, ...).
//
// Top-level types:
//   - Config{Elasticsearch, Query, Alerts, Monitor, Metrics, Seed} — full tree
//   - ElasticsearchConfig — url, optional basic-auth credentials, index
//     pattern, search timeout
//   - QueryConfig — lookback_minutes plus optional service / environment
//     equality filters (empty string = no filter)
//   - AlertsConfig — default_webhook, ordered routes list, POST timeout;
//     RouteList.Decode parses the "Name:url,Name2:url2" env syntax
//   - MonitorConfig — interval; zero selects one-shot mode
//   - MetricsConfig — optional listen address for /metrics and /healthz
//   - SeedConfig — mock-data injector knobs (count, service and environment
//     pools, index prefix)
//
// Load validates structure only; the monitor binary additionally calls
// Config.ValidateMonitor, which requires default_webhook. The validated
// Config is immutable for the process lifetime. Watch(ctx, path, onChange)
// reports file edits so the operator knows a restart is needed; it never
// swaps the running configuration.
package config
