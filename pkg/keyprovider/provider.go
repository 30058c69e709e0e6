// Package keyprovider resolves token signing keys from an identity pool's
// published JWKS endpoint. Key sets are cached per pool and replaced
// wholesale on refresh; concurrent refreshes are coalesced into a single
// in-flight fetch.
package keyprovider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mkonda/poolguard/pkg/autherr"
	"github.com/mkonda/poolguard/pkg/cache"
	"github.com/mkonda/poolguard/pkg/config"
	"github.com/mkonda/poolguard/pkg/metrics"
	"github.com/mkonda/poolguard/pkg/types"
)

// KeyProvider resolves the public signing key for a kid.
type KeyProvider interface {
	Key(ctx context.Context, kid string) (*types.SigningKey, error)
}

// JWKSProvider fetches and caches the signing keys of one identity pool.
type JWKSProvider struct {
	pool    string
	jwksURL string
	ttl     time.Duration // Freshness window of a cached key set
	grace   time.Duration // Extra window during which a stale set may serve on fetch failure
	timeout time.Duration

	cache  cache.Cache
	client *http.Client
	group  singleflight.Group
	now    func() time.Time
}

// Option configures a JWKSProvider.
type Option func(*JWKSProvider)

// WithHTTPClient overrides the HTTP client used for key fetches.
func WithHTTPClient(c *http.Client) Option {
	return func(p *JWKSProvider) {
		p.client = c
	}
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(p *JWKSProvider) {
		p.now = now
	}
}

// New creates a provider for the pool configured in cfg, backed by the
// given key set cache.
func New(cfg *config.Config, c cache.Cache, opts ...Option) *JWKSProvider {
	p := &JWKSProvider{
		pool:    cfg.UserPoolID,
		jwksURL: cfg.JWKSURL,
		ttl:     cfg.Cache.TTL,
		grace:   cfg.Cache.StaleGrace,
		timeout: cfg.FetchTimeout,
		cache:   c,
		client:  &http.Client{Timeout: cfg.FetchTimeout},
		now:     time.Now,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Key returns the signing key tagged with kid. A kid absent from a fresh
// cached set still triggers one refresh (the pool may have just rotated
// keys); if the kid is absent after the refresh the lookup fails with
// ErrUnknownKeyID. A failed refresh falls back to a stale cached set
// within the grace window and fails closed with ErrKeyFetchFailure
// beyond it.
func (p *JWKSProvider) Key(ctx context.Context, kid string) (*types.SigningKey, error) {
	cached, haveCached := p.cache.Get(p.pool)

	if haveCached && cached.Age(p.now()) <= p.ttl {
		if key, found := cached.Lookup(kid); found {
			return key, nil
		}
	}

	refreshed, err := p.refresh(ctx)
	if err != nil {
		if ctx.Err() != nil {
			// The caller abandoned the wait; the fetch itself keeps
			// running for other callers.
			return nil, ctx.Err()
		}

		if haveCached && cached.Age(p.now()) <= p.ttl+p.grace {
			slog.Warn("Key fetch failed, serving stale key set within grace window",
				"pool", p.pool,
				"age", cached.Age(p.now()),
				"error", err.Error())
			metrics.JWKSStaleServed()

			if key, found := cached.Lookup(kid); found {
				return key, nil
			}
			return nil, fmt.Errorf("no key %q in stale key set for pool %s: %w", kid, p.pool, autherr.ErrUnknownKeyID)
		}

		return nil, fmt.Errorf("key set for pool %s unavailable: %v: %w", p.pool, err, autherr.ErrKeyFetchFailure)
	}

	if key, found := refreshed.Lookup(kid); found {
		return key, nil
	}

	return nil, fmt.Errorf("no key %q in pool %s: %w", kid, p.pool, autherr.ErrUnknownKeyID)
}

// refresh coalesces concurrent fetches for the pool into one in-flight
// request. A caller whose context is cancelled stops waiting, but the
// fetch is not aborted: its result still lands in the cache for everyone
// else.
func (p *JWKSProvider) refresh(ctx context.Context) (*types.KeySet, error) {
	ch := p.group.DoChan(p.pool, func() (any, error) {
		ks, err := p.fetch()
		if err != nil {
			metrics.JWKSFetch(false)
			return nil, err
		}
		metrics.JWKSFetch(true)

		p.cache.Set(p.pool, ks, p.ttl+p.grace)
		slog.Info("Refreshed key set",
			"pool", p.pool,
			"keys", len(ks.Keys))
		return ks, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*types.KeySet), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// fetch retrieves the pool's JWKS document. Deliberately not tied to any
// request context; the fetch is bounded by its own timeout.
func (p *JWKSProvider) fetch() (*types.KeySet, error) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.jwksURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create key fetch request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch key set: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Error("Failed to close key set response body", "error", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("key set endpoint returned status %d", resp.StatusCode)
	}

	var jwks types.JWKS
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return nil, fmt.Errorf("failed to parse key set document: %w", err)
	}

	if len(jwks.Keys) == 0 {
		return nil, fmt.Errorf("key set document for pool %s contains no keys", p.pool)
	}

	return &types.KeySet{
		JWKS:      jwks,
		Pool:      p.pool,
		FetchedAt: p.now(),
	}, nil
}
