package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from both the config file
// and the environment.
const (
	DefaultElasticsearchURL = "http://elasticsearch:9200"
	DefaultErrorIndex       = "logs-apm.error*"
	DefaultLookbackMinutes  = 5
	DefaultSearchTimeout    = 30 * time.Second
	DefaultWebhookTimeout   = 10 * time.Second

	// DefaultSeedIndexPrefix is the daily index prefix the injector writes
	// to. The monitor's default index pattern does not cover it; point
	// APM_ERROR_INDEX at "apm-*" to monitor seeded data directly.
	DefaultSeedIndexPrefix = "apm-8.0.0-error-"
	DefaultSeedCount       = 5
)

// Config is the top-level configuration for apmwatch.
// It is built once by Load and never mutated afterwards; components receive
// the sections they need at construction time.
type Config struct {
	Elasticsearch ElasticsearchConfig `yaml:"elasticsearch"`
	Query         QueryConfig         `yaml:"query"`
	Alerts        AlertsConfig        `yaml:"alerts"`
	Monitor       MonitorConfig       `yaml:"monitor"`
	Metrics       MetricsConfig       `yaml:"metrics"`
	Seed          SeedConfig          `yaml:"seed"`
}

// ElasticsearchConfig holds the connection settings for the error store.
type ElasticsearchConfig struct {
	// URL is the base URL of the Elasticsearch cluster.
	URL string `yaml:"url" envconfig:"ELASTICSEARCH_HOST"`

	// Username and Password enable basic auth when both are set.
	Username string `yaml:"username" envconfig:"ELASTICSEARCH_USERNAME"`
	Password string `yaml:"password" envconfig:"ELASTICSEARCH_PASSWORD"`

	// Index is the index pattern searched for APM error documents.
	Index string `yaml:"index" envconfig:"APM_ERROR_INDEX"`

	// Timeout bounds every request to the store.
	Timeout time.Duration `yaml:"timeout" envconfig:"ELASTICSEARCH_TIMEOUT"`
}

// QueryConfig narrows which error documents each cycle considers.
type QueryConfig struct {
	// LookbackMinutes is the trailing window scanned on every cycle.
	LookbackMinutes int `yaml:"lookback_minutes" envconfig:"LOOKBACK_MINUTES"`

	// Service restricts the query to one service name. Empty means all
	// services.
	Service string `yaml:"service" envconfig:"SERVICE_NAME"`

	// Environment restricts the query to one environment. Empty means all
	// environments.
	Environment string `yaml:"environment" envconfig:"ENVIRONMENT"`
}

// AlertsConfig holds the webhook destinations for alert delivery.
type AlertsConfig struct {
	// DefaultWebhook receives alerts for services without a matching route,
	// plus the per-cycle summary. Required for the monitor (ValidateMonitor).
	DefaultWebhook string `yaml:"default_webhook" envconfig:"SLACK_WEBHOOK"`

	// Routes direct specific services to dedicated webhooks. Declaration
	// order is the partial-match priority order, so it is preserved from
	// the file (a YAML sequence) or the SERVICE_WEBHOOKS string.
	Routes RouteList `yaml:"routes" envconfig:"SERVICE_WEBHOOKS"`

	// Timeout bounds every webhook POST.
	Timeout time.Duration `yaml:"timeout" envconfig:"WEBHOOK_TIMEOUT"`
}

// Route directs one service's alerts to a dedicated webhook.
type Route struct {
	Service string `yaml:"service"`
	URL     string `yaml:"url"`
}

// RouteList is an ordered list of routes. Its environment form is
// "ServiceA:https://...,ServiceB:https://..." — comma-separated pairs with
// the first colon splitting the service name from the URL.
type RouteList []Route

// Decode implements envconfig.Decoder for the SERVICE_WEBHOOKS syntax.
// A value set in the environment replaces the file-configured list.
func (r *RouteList) Decode(value string) error {
	var routes RouteList
	for _, mapping := range strings.Split(value, ",") {
		mapping = strings.TrimSpace(mapping)
		if mapping == "" {
			continue
		}
		service, url, ok := strings.Cut(mapping, ":")
		if !ok {
			return fmt.Errorf("route %q: want service:url", mapping)
		}
		routes = append(routes, Route{
			Service: strings.TrimSpace(service),
			URL:     strings.TrimSpace(url),
		})
	}
	*r = routes
	return nil
}

// MonitorConfig selects the scheduling mode.
type MonitorConfig struct {
	// Interval is the pause between cycles. Zero (or absent) runs a single
	// cycle and exits — the externally scheduled CronJob mode. A positive
	// value selects continuous mode.
	Interval Interval `yaml:"interval" envconfig:"MONITOR_INTERVAL"`
}

// Interval is a duration that additionally accepts a bare number of
// seconds, so MONITOR_INTERVAL=300 and MONITOR_INTERVAL=5m both mean five
// minutes.
type Interval time.Duration

// Duration returns the interval as a time.Duration.
func (i Interval) Duration() time.Duration { return time.Duration(i) }

func (i Interval) String() string { return time.Duration(i).String() }

// Decode implements envconfig.Decoder.
func (i *Interval) Decode(value string) error { return i.parse(value) }

// UnmarshalYAML implements yaml.Unmarshaler, with the same two accepted
// forms as the environment.
func (i *Interval) UnmarshalYAML(node *yaml.Node) error { return i.parse(node.Value) }

func (i *Interval) parse(value string) error {
	if value == "" {
		*i = 0
		return nil
	}
	if secs, err := strconv.Atoi(value); err == nil {
		*i = Interval(time.Duration(secs) * time.Second)
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("interval %q: want seconds or a duration", value)
	}
	*i = Interval(d)
	return nil
}

// MetricsConfig controls the optional self-metrics listener.
type MetricsConfig struct {
	// ListenAddr is the host:port serving /metrics and /healthz.
	// Empty disables the listener.
	ListenAddr string `yaml:"listen_addr" envconfig:"METRICS_ADDR"`
}

// SeedConfig controls the apmseed mock-data injector. The monitor ignores
// this section.
type SeedConfig struct {
	// Count is how many error documents one run injects.
	Count int `yaml:"count" envconfig:"NUM_ERRORS"`

	// Services and Environments are the pools documents are drawn from.
	Services     []string `yaml:"services" envconfig:"SERVICES"`
	Environments []string `yaml:"environments" envconfig:"ENVIRONMENTS"`

	// IndexPrefix is prepended to the document date to form the daily
	// index name, e.g. "apm-8.0.0-error-2024.01.15".
	IndexPrefix string `yaml:"index_prefix" envconfig:"SEED_INDEX_PREFIX"`
}

// Load builds the configuration from the optional YAML file at path and the
// process environment. Environment variables override file values. An empty
// path skips the file entirely.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse yaml: %w", err)
		}
	}

	// Overlay the environment section by section; with no prefix the
	// envconfig tags are exactly the flat names the deployment manifests set.
	sections := []any{
		&cfg.Elasticsearch,
		&cfg.Query,
		&cfg.Alerts,
		&cfg.Monitor,
		&cfg.Metrics,
		&cfg.Seed,
	}
	for _, section := range sections {
		if err := envconfig.Process("", section); err != nil {
			return nil, fmt.Errorf("config: environment: %w", err)
		}
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Elasticsearch: ElasticsearchConfig{
			URL:     DefaultElasticsearchURL,
			Index:   DefaultErrorIndex,
			Timeout: DefaultSearchTimeout,
		},
		Query: QueryConfig{
			LookbackMinutes: DefaultLookbackMinutes,
		},
		Alerts: AlertsConfig{
			Timeout: DefaultWebhookTimeout,
		},
		Seed: SeedConfig{
			Count:        DefaultSeedCount,
			Services:     []string{"fastapi-app", "web-service", "api-gateway"},
			Environments: []string{"production", "staging", "development"},
			IndexPrefix:  DefaultSeedIndexPrefix,
		},
	}
}

// ValidateMonitor checks the fields only the monitor requires. The
// injector shares Load but skips this check.
func (c *Config) ValidateMonitor() error {
	if c.Alerts.DefaultWebhook == "" {
		return fmt.Errorf("config: alerts.default_webhook is required")
	}
	return nil
}

// validate checks required fields and structural constraints common to
// every consumer.
func validate(cfg *Config) error {
	if cfg.Elasticsearch.URL == "" {
		return fmt.Errorf("elasticsearch.url is required")
	}
	if cfg.Elasticsearch.Timeout <= 0 {
		return fmt.Errorf("elasticsearch.timeout must be positive")
	}
	if cfg.Query.LookbackMinutes <= 0 {
		return fmt.Errorf("query.lookback_minutes must be positive")
	}
	if cfg.Alerts.Timeout <= 0 {
		return fmt.Errorf("alerts.timeout must be positive")
	}
	seen := make(map[string]bool, len(cfg.Alerts.Routes))
	for i, r := range cfg.Alerts.Routes {
		if r.Service == "" {
			return fmt.Errorf("alerts.routes[%d]: service is required", i)
		}
		if r.URL == "" {
			return fmt.Errorf("alerts.routes[%d] %q: url is required", i, r.Service)
		}
		// Duplicate keys would make the ordered partial match ambiguous.
		if seen[r.Service] {
			return fmt.Errorf("alerts.routes[%d]: duplicate service %q", i, r.Service)
		}
		seen[r.Service] = true
	}
	if cfg.Monitor.Interval < 0 {
		return fmt.Errorf("monitor.interval must not be negative")
	}
	return nil
}
