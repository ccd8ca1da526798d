package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/yllada/pvpn/common"
	"github.com/yllada/pvpn/config"
)

// Fetcher retrieves the server list from the directory API.
type Fetcher interface {
	Logicals(ctx context.Context, apiBase string) ([]LogicalServer, error)
}

// Catalog serves the server list, fetching it at most once per
// freshness window and mirroring it to a cache file.
//
// A Catalog is not safe for concurrent use; pvpn runs one pipeline per
// invocation.
type Catalog struct {
	fetcher   Fetcher
	cachePath string
	maxAge    time.Duration
	now       func() time.Time
	log       common.Logger

	snapshot *Snapshot
	loaded   bool
	cacheErr error
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Catalog) { c.now = now }
}

// WithMaxAge overrides common.CatalogMaxAge.
func WithMaxAge(d time.Duration) Option {
	return func(c *Catalog) { c.maxAge = d }
}

// WithLogger replaces the default application logger.
func WithLogger(l common.Logger) Option {
	return func(c *Catalog) { c.log = l }
}

// New returns a Catalog that fetches with fetcher and caches at cachePath.
// An empty cachePath disables the on-disk cache.
func New(fetcher Fetcher, cachePath string, opts ...Option) *Catalog {
	c := &Catalog{
		fetcher:   fetcher,
		cachePath: cachePath,
		maxAge:    common.CatalogMaxAge,
		now:       time.Now,
		log:       common.GetLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Snapshot returns the current snapshot, loading the cache file if needed.
// It never hits the network. The result may be nil.
func (c *Catalog) Snapshot() *Snapshot {
	c.loadCache()
	return c.snapshot
}

// Servers returns the servers usable by account. The list is served from
// the cached snapshot while it is fresh and re-fetched otherwise.
func (c *Catalog) Servers(ctx context.Context, account *config.Account) ([]LogicalServer, error) {
	c.loadCache()

	if c.snapshot.Stale(c.now(), c.maxAge) {
		if err := c.refresh(ctx, account.APIBase); err != nil {
			return nil, err
		}
	} else {
		c.log.Debug("Using cached server list from %s", c.snapshot.LastPull.Format(time.RFC3339))
	}

	return Filter(c.snapshot.Servers, account.Tier), nil
}

// Refresh fetches the server list unconditionally.
func (c *Catalog) Refresh(ctx context.Context, account *config.Account) error {
	c.loadCache()
	return c.refresh(ctx, account.APIBase)
}

func (c *Catalog) refresh(ctx context.Context, apiBase string) error {
	servers, err := c.fetcher.Logicals(ctx, apiBase)
	if err != nil {
		// The previous snapshot stays in place.
		if c.cacheErr != nil {
			return errors.Join(err, c.cacheErr)
		}
		return err
	}

	c.snapshot = &Snapshot{LastPull: c.now(), Servers: servers}
	c.cacheErr = nil
	c.log.Info("Fetched %d servers", len(servers))

	if err := c.persist(); err != nil {
		c.log.Warn("Could not write server cache: %v", err)
	}
	return nil
}

// loadCache reads the cache file once. An unreadable or corrupt file is
// remembered and treated as absent.
func (c *Catalog) loadCache() {
	if c.loaded {
		return
	}
	c.loaded = true

	if c.cachePath == "" {
		return
	}

	data, err := os.ReadFile(c.cachePath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			c.cacheErr = fmt.Errorf("%w: %w", common.ErrCacheIO, err)
			c.log.Warn("Ignoring server cache: %v", c.cacheErr)
		}
		return
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		c.cacheErr = fmt.Errorf("%w: %s: %w", common.ErrCacheIO, c.cachePath, err)
		c.log.Warn("Ignoring server cache: %v", c.cacheErr)
		return
	}
	c.snapshot = &snap
}

func (c *Catalog) persist() error {
	if c.cachePath == "" {
		return nil
	}

	data, err := json.Marshal(c.snapshot)
	if err != nil {
		return fmt.Errorf("%w: %w", common.ErrCacheIO, err)
	}
	if err := common.WriteFileAtomic(c.cachePath, data, 0600); err != nil {
		return fmt.Errorf("%w: %w", common.ErrCacheIO, err)
	}
	return nil
}
