package decision

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/arbiterhq/sentinel/internal/bus"
	"github.com/arbiterhq/sentinel/internal/domain"
	dec "github.com/arbiterhq/sentinel/internal/domain/decision"
	"github.com/arbiterhq/sentinel/internal/domain/event"
	decport "github.com/arbiterhq/sentinel/internal/port/decision"
)

// Chain tries providers in configured order and returns the first
// success. Remote providers are skipped while the availability flag is
// tripped. When the final provider is the rules provider the chain can
// never fail, which is how callers get graceful degradation instead of a
// dropped cycle.
type Chain struct {
	providers    []decport.Provider
	availability *Availability
	cache        *Cache
	bus          *bus.Bus
	log          *slog.Logger
}

// ChainOptions configures a Chain. Availability, Cache and Bus are
// optional; a nil Availability never skips providers.
type ChainOptions struct {
	Availability *Availability
	Cache        *Cache
	Bus          *bus.Bus
	Logger       *slog.Logger
}

// NewChain builds a chain from named providers in order. Every name must
// resolve against the given provider set; the rules provider is appended
// when the order does not already end with one.
func NewChain(order []string, available map[string]decport.Provider, opts ChainOptions) (*Chain, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	var providers []decport.Provider
	for _, name := range order {
		p, ok := available[name]
		if !ok {
			return nil, fmt.Errorf("%w: unknown decision provider %q", domain.ErrConfiguration, name)
		}
		providers = append(providers, p)
	}
	if len(providers) == 0 || !isLocal(providers[len(providers)-1]) {
		rules, ok := available["rules"]
		if !ok {
			return nil, fmt.Errorf("%w: rules provider is required", domain.ErrConfiguration)
		}
		providers = append(providers, rules)
	}

	return &Chain{
		providers:    providers,
		availability: opts.Availability,
		cache:        opts.Cache,
		bus:          opts.Bus,
		log:          opts.Logger,
	}, nil
}

// isLocal reports whether a provider needs no external call. Only the
// rules provider qualifies today.
func isLocal(p decport.Provider) bool { return p.Name() == "rules" }

// Name implements the provider port.
func (c *Chain) Name() string { return "chain" }

// Decide walks the provider order. Exactly one recommendation comes back
// per call as long as the chain ends with the rules provider.
func (c *Chain) Decide(ctx context.Context, req dec.Request) (dec.Recommendation, error) {
	if c.cache != nil {
		if rec, ok := c.cache.Get(req); ok {
			return rec, nil
		}
	}
	return c.decideUncached(ctx, req)
}

func (c *Chain) decideUncached(ctx context.Context, req dec.Request) (dec.Recommendation, error) {
	var lastErr error

	for i, p := range c.providers {
		if !isLocal(p) && c.availability != nil && !c.availability.Available() {
			c.log.Debug("skipping remote provider, source unavailable", "provider", p.Name())
			continue
		}

		rec, err := p.Decide(ctx, req)
		if err != nil {
			lastErr = err
			if !isLocal(p) && c.availability != nil {
				c.availability.RecordFailure()
			}
			c.log.Warn("decision provider failed",
				"provider", p.Name(),
				"kind", string(dec.KindOf(err)),
				"error", err,
			)
			continue
		}

		if !isLocal(p) && c.availability != nil {
			c.availability.RecordSuccess()
		}
		// Any provider past the first means a fallback fired; surface it.
		if i > 0 {
			c.announceFallback(p.Name(), lastErr)
		}
		if c.cache != nil {
			c.cache.Put(req, rec)
		}
		return rec, nil
	}

	if lastErr == nil {
		lastErr = dec.Failure(dec.FailureUnavailable, "chain", fmt.Errorf("no provider reachable"))
	}
	return dec.Recommendation{}, lastErr
}

func (c *Chain) announceFallback(provider string, cause error) {
	causeText := ""
	if cause != nil {
		causeText = cause.Error()
	}
	if c.bus != nil {
		c.bus.Publish(event.New(event.TypeCoordination, event.PriorityNormal, "decision", map[string]any{
			"fallback_provider": provider,
			"cause":             causeText,
		}))
	}
}
