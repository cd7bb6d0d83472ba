package llm

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/memflow/memflow/internal/infrastructure/config"
	domainErrors "github.com/memflow/memflow/pkg/errors"
)

// Router maps public model aliases to Ollama backends.
// Aliases are what clients put in the "model" field; each alias is
// pinned to one backend URL and the real model name there.
type Router struct {
	routes  map[string]config.ModelRoute
	aliases []string
	logger  *zap.Logger
}

// NewRouter creates a model router from configured routes.
// Later duplicates of an alias are ignored (first wins).
func NewRouter(routes []config.ModelRoute, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Router{
		routes: make(map[string]config.ModelRoute),
		logger: logger.With(zap.String("component", "model-router")),
	}
	for _, route := range routes {
		if route.Alias == "" || route.BackendURL == "" {
			r.logger.Warn("skipping incomplete model route",
				zap.String("alias", route.Alias),
				zap.String("backend_url", route.BackendURL),
			)
			continue
		}
		if _, exists := r.routes[route.Alias]; exists {
			r.logger.Warn("duplicate model alias ignored", zap.String("alias", route.Alias))
			continue
		}
		r.routes[route.Alias] = route
		r.aliases = append(r.aliases, route.Alias)
		r.logger.Info("model route registered",
			zap.String("alias", route.Alias),
			zap.String("backend_url", route.BackendURL),
			zap.String("backend_model", route.BackendModel),
		)
	}
	return r
}

// Resolve returns the backend route for an alias.
func (r *Router) Resolve(alias string) (config.ModelRoute, error) {
	route, ok := r.routes[alias]
	if !ok {
		return config.ModelRoute{}, domainErrors.NewInvalidInputError(
			fmt.Sprintf("unknown model %q, available models: %s", alias, strings.Join(r.aliases, ", ")),
		)
	}
	return route, nil
}

// Aliases returns registered aliases in configuration order,
// deduplicated by backend URL so each backend is listed once
// (first alias registered for a backend wins).
func (r *Router) Aliases() []string {
	seen := make(map[string]bool, len(r.aliases))
	aliases := make([]string, 0, len(r.aliases))
	for _, alias := range r.aliases {
		url := r.routes[alias].BackendURL
		if seen[url] {
			continue
		}
		seen[url] = true
		aliases = append(aliases, alias)
	}
	return aliases
}
