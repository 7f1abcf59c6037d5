// Package casino serves the tier reference data: which bet range each
// casino level allows. The catalog is read-mostly, cached whole, and
// refreshed on a schedule; a cache miss falls back to the authoritative
// source.
package casino

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrNoSuchTier reports an unknown casino level.
var ErrNoSuchTier = errors.New("no such casino tier")

// Tier defines the allowed bet range for rooms at one casino level.
type Tier struct {
	Level  int
	MinBet int64
	MaxBet int64
}

// Source is the authoritative tier catalog, owned by an external
// collaborator; the core only reads it.
type Source interface {
	ListTiers(ctx context.Context) ([]Tier, error)
	GetTier(ctx context.Context, level int) (Tier, error)
}

// Catalog caches the full tier list in memory.
type Catalog struct {
	source Source
	logger *zap.Logger

	mu      sync.RWMutex
	byLevel map[int]Tier
}

// NewCatalog wires a Catalog over the given source. The cache starts empty;
// the first lookups fall through until Refresh runs.
func NewCatalog(source Source, logger *zap.Logger) *Catalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Catalog{
		source:  source,
		logger:  logger,
		byLevel: map[int]Tier{},
	}
}

// Tier returns the tier for level, from cache when possible.
func (catalog *Catalog) Tier(ctx context.Context, level int) (Tier, error) {
	catalog.mu.RLock()
	tier, ok := catalog.byLevel[level]
	catalog.mu.RUnlock()
	if ok {
		return tier, nil
	}
	catalog.logger.Debug("tier cache miss", zap.Int("level", level))
	tier, err := catalog.source.GetTier(ctx, level)
	if err != nil {
		return Tier{}, err
	}
	catalog.mu.Lock()
	catalog.byLevel[level] = tier
	catalog.mu.Unlock()
	return tier, nil
}

// All returns every cached tier, falling back to the source when the cache
// has never been filled.
func (catalog *Catalog) All(ctx context.Context) ([]Tier, error) {
	catalog.mu.RLock()
	cached := make([]Tier, 0, len(catalog.byLevel))
	for _, tier := range catalog.byLevel {
		cached = append(cached, tier)
	}
	catalog.mu.RUnlock()
	if len(cached) > 0 {
		return cached, nil
	}
	return catalog.source.ListTiers(ctx)
}

// Refresh replaces the whole cache from the source. Scheduled hourly by
// the daemon; a failed refresh keeps the previous cache.
func (catalog *Catalog) Refresh(ctx context.Context) error {
	tiers, err := catalog.source.ListTiers(ctx)
	if err != nil {
		catalog.logger.Warn("tier refresh failed", zap.Error(err))
		return err
	}
	next := make(map[int]Tier, len(tiers))
	for _, tier := range tiers {
		next[tier.Level] = tier
	}
	catalog.mu.Lock()
	catalog.byLevel = next
	catalog.mu.Unlock()
	catalog.logger.Info("tier cache refreshed", zap.Int("tiers", len(tiers)))
	return nil
}

// StaticSource serves a fixed tier list; the daemon uses it to seed a new
// database and tests use it directly.
type StaticSource struct {
	Tiers []Tier
}

// ListTiers implements Source.
func (source StaticSource) ListTiers(ctx context.Context) ([]Tier, error) {
	return append([]Tier(nil), source.Tiers...), nil
}

// GetTier implements Source.
func (source StaticSource) GetTier(ctx context.Context, level int) (Tier, error) {
	for _, tier := range source.Tiers {
		if tier.Level == level {
			return tier, nil
		}
	}
	return Tier{}, ErrNoSuchTier
}
