package alerts

import (
	"strings"

	"github.com/apmwatch/apmwatch/internal/config"
)

// DefaultLabel is the target label reported for deliveries that fall
// through to the default webhook.
const DefaultLabel = "default"

// Target is a resolved delivery destination.
type Target struct {
	Label string
	URL   string
}

// Router resolves a service name to a webhook target. Resolution tries an
// exact route first, then a substring match over the routes in declaration
// order (the route name may contain the service name or vice versa), and
// finally falls back to the default webhook. Resolution is a pure function
// of the configuration; a Router never changes after construction.
type Router struct {
	defaultURL string
	routes     []config.Route
}

// NewRouter builds a Router from the alert configuration.
func NewRouter(cfg config.AlertsConfig) *Router {
	return &Router{
		defaultURL: cfg.DefaultWebhook,
		routes:     cfg.Routes,
	}
}

// Resolve returns the delivery target for service.
func (r *Router) Resolve(service string) Target {
	for _, rt := range r.routes {
		if rt.Service == service {
			return Target{Label: rt.Service, URL: rt.URL}
		}
	}

	name := strings.ToLower(service)
	for _, rt := range r.routes {
		key := strings.ToLower(rt.Service)
		if strings.Contains(name, key) || strings.Contains(key, name) {
			return Target{Label: rt.Service, URL: rt.URL}
		}
	}

	return r.Default()
}

// Default returns the fallback target used for unmatched services and for
// the cycle summary.
func (r *Router) Default() Target {
	return Target{Label: DefaultLabel, URL: r.defaultURL}
}
