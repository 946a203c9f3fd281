// Package router handles domain discovery from a JSON
// config, the upstream platform API, or a delimiter-separated environment
// variable, plus per-(domain, environment) routing policy backed by a
// TTL'd, fsnotify-invalidated config cache.
package router

import (
	"context"
	"encoding/json"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/clodoworks/orchestrator/internal/domain"
	"github.com/clodoworks/orchestrator/internal/errortypes"
	"github.com/clodoworks/orchestrator/internal/logging"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// SelectionMode names the four ways to choose a domain subset for an
// invocation.
type SelectionMode string

const (
	SelectSpecific SelectionMode = "specific"
	SelectAll      SelectionMode = "all"
	SelectEnvMap   SelectionMode = "envMap"
	SelectFirst    SelectionMode = "first"
)

// Policy is the computed routing policy for one (domain, environment) pair.
type Policy struct {
	RateLimit  int
	CacheTTL   time.Duration
	Strategies []string
}

// defaultPolicies keys environment-level defaults; per-domain overrides in
// the JSON config take precedence over these.
var defaultPolicies = map[domain.Environment]Policy{
	domain.EnvDevelopment: {RateLimit: 120, CacheTTL: 30 * time.Second, Strategies: []string{"direct"}},
	domain.EnvStaging:     {RateLimit: 60, CacheTTL: 2 * time.Minute, Strategies: []string{"direct", "canary"}},
	domain.EnvProduction:  {RateLimit: 30, CacheTTL: 5 * time.Minute, Strategies: []string{"canary", "blue-green"}},
}

// PortfolioConfig is the on-disk JSON shape domain discovery reads.
type PortfolioConfig struct {
	Domains  []string                    `json:"domains"`
	EnvMap   map[string][]string         `json:"env_map,omitempty"`
	Policies map[string]map[string]Policy `json:"policies,omitempty"` // domain -> env -> override
}

// UpstreamClient discovers domains from the platform's own API, for
// deployments whose domain list isn't checked into a local config file.
type UpstreamClient interface {
	ListDomains(ctx context.Context) ([]string, error)
}

// Router discovers the domain portfolio and resolves routing policy,
// invalidating its cache whenever the backing config file changes on disk.
type Router struct {
	mu        sync.RWMutex
	configPath string
	config    PortfolioConfig
	upstream  UpstreamClient
	cacheTTL  time.Duration
	cachedAt  time.Time
	watcher   *fsnotify.Watcher
	logger    zerolog.Logger
}

// New loads domains from configPath (if non-empty), then EnvVar, then the
// upstream client, in that documented precedence order, and starts
// watching configPath for changes.
func New(configPath string, upstream UpstreamClient, envVar string, cacheTTL time.Duration) (*Router, error) {
	r := &Router{configPath: configPath, upstream: upstream, cacheTTL: cacheTTL, logger: logging.WithComponent("router")}

	if err := r.load(envVar); err != nil {
		return nil, err
	}

	if configPath != "" {
		if watcher, err := fsnotify.NewWatcher(); err == nil {
			if err := watcher.Add(configPath); err == nil {
				r.watcher = watcher
				go r.watchChanges(envVar)
			} else {
				watcher.Close()
			}
		}
	}

	return r, nil
}

func (r *Router) load(envVar string) error {
	cfg, err := r.discover(envVar)
	if err != nil {
		return err
	}
	if err := Validate(cfg); err != nil {
		return err
	}

	r.mu.Lock()
	r.config = cfg
	r.cachedAt = time.Now()
	r.mu.Unlock()
	return nil
}

func (r *Router) discover(envVar string) (PortfolioConfig, error) {
	if r.configPath != "" {
		if data, err := os.ReadFile(r.configPath); err == nil {
			var cfg PortfolioConfig
			if err := json.Unmarshal(data, &cfg); err != nil {
				return PortfolioConfig{}, errortypes.NewValidation("invalid domain portfolio config").WithCause(err)
			}
			cfg.Domains = dedupeSort(cfg.Domains)
			return cfg, nil
		}
	}

	if envVar != "" {
		if raw := os.Getenv(envVar); raw != "" {
			domains := dedupeSort(strings.Split(raw, ","))
			return PortfolioConfig{Domains: domains}, nil
		}
	}

	if r.upstream != nil {
		domains, err := r.upstream.ListDomains(context.Background())
		if err != nil {
			return PortfolioConfig{}, errortypes.NewTransient("discover domains from upstream failed").WithCause(err)
		}
		return PortfolioConfig{Domains: dedupeSort(domains)}, nil
	}

	return PortfolioConfig{}, errortypes.NewValidation("no domain source configured (config file, env var, and upstream client all unavailable)")
}

func dedupeSort(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Validate checks the minimal portfolio invariants: at least one
// domain, and every domain a non-empty string (already guaranteed by
// dedupeSort, but re-checked here for configs constructed directly).
func Validate(cfg PortfolioConfig) error {
	if len(cfg.Domains) == 0 {
		return errortypes.NewValidation("domain portfolio must contain at least one domain")
	}
	for _, d := range cfg.Domains {
		if strings.TrimSpace(d) == "" {
			return errortypes.NewValidation("domain portfolio contains an empty domain name")
		}
	}
	for env := range cfg.EnvMap {
		if _, ok := defaultPolicies[domain.Environment(env)]; !ok {
			// Warn-only: unknown environment keys don't fail validation.
		}
	}
	return nil
}

func (r *Router) watchChanges(envVar string) {
	for {
		select {
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				r.logger.Info().Str("path", r.configPath).Msg("domain portfolio config changed, reloading")
				if err := r.load(envVar); err != nil {
					r.logger.Error().Err(err).Msg("failed to reload domain portfolio config")
				}
			}
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.Error().Err(err).Msg("config watcher error")
		}
	}
}

// Select resolves a SelectionMode into the concrete domain list for this
// invocation.
func (r *Router) Select(mode SelectionMode, specific []string, env domain.Environment) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	switch mode {
	case SelectSpecific:
		if len(specific) == 0 {
			return nil, errortypes.NewValidation("selection mode 'specific' requires at least one domain")
		}
		return specific, nil
	case SelectAll:
		return r.config.Domains, nil
	case SelectEnvMap:
		mapped, ok := r.config.EnvMap[string(env)]
		if !ok {
			return nil, errortypes.NewValidation("no env_map entry for environment").WithCode(string(env))
		}
		return mapped, nil
	case SelectFirst:
		if len(r.config.Domains) == 0 {
			return nil, errortypes.NewValidation("domain portfolio is empty")
		}
		return r.config.Domains[:1], nil
	default:
		return nil, errortypes.NewValidation("unknown domain selection mode").WithCode(string(mode))
	}
}

// Policy resolves the routing policy for (domainName, env): a per-domain
// override from config if present, else the environment default.
func (r *Router) Policy(domainName string, env domain.Environment) Policy {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if byEnv, ok := r.config.Policies[domainName]; ok {
		if p, ok := byEnv[string(env)]; ok {
			return p
		}
	}
	if p, ok := defaultPolicies[env]; ok {
		return p
	}
	return defaultPolicies[domain.EnvProduction]
}

// CacheStale reports whether the cached portfolio has outlived cacheTTL and
// should be refreshed before serving another Select.
func (r *Router) CacheStale() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return time.Since(r.cachedAt) > r.cacheTTL
}

func (r *Router) Close() error {
	if r.watcher != nil {
		return r.watcher.Close()
	}
	return nil
}
