package casino

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
)

type countingSource struct {
	inner    StaticSource
	getCalls int
}

func (source *countingSource) ListTiers(ctx context.Context) ([]Tier, error) {
	return source.inner.ListTiers(ctx)
}

func (source *countingSource) GetTier(ctx context.Context, level int) (Tier, error) {
	source.getCalls++
	return source.inner.GetTier(ctx, level)
}

func testTiers() []Tier {
	return []Tier{
		{Level: 1, MinBet: 10, MaxBet: 100},
		{Level: 2, MinBet: 100, MaxBet: 1000},
	}
}

func TestTierMissFallsBackToSourceThenCaches(test *testing.T) {
	test.Parallel()
	source := &countingSource{inner: StaticSource{Tiers: testTiers()}}
	catalog := NewCatalog(source, zap.NewNop())

	tier, err := catalog.Tier(context.Background(), 2)
	if err != nil {
		test.Fatalf("tier: %v", err)
	}
	if tier.MinBet != 100 || tier.MaxBet != 1000 {
		test.Fatalf("unexpected tier %+v", tier)
	}
	if _, err := catalog.Tier(context.Background(), 2); err != nil {
		test.Fatalf("cached tier: %v", err)
	}
	if source.getCalls != 1 {
		test.Fatalf("expected one source hit, got %d", source.getCalls)
	}
}

func TestTierUnknownLevel(test *testing.T) {
	test.Parallel()
	catalog := NewCatalog(StaticSource{Tiers: testTiers()}, zap.NewNop())
	if _, err := catalog.Tier(context.Background(), 99); !errors.Is(err, ErrNoSuchTier) {
		test.Fatalf("expected ErrNoSuchTier, got %v", err)
	}
}

func TestRefreshReplacesCache(test *testing.T) {
	test.Parallel()
	source := &countingSource{inner: StaticSource{Tiers: testTiers()}}
	catalog := NewCatalog(source, zap.NewNop())
	if err := catalog.Refresh(context.Background()); err != nil {
		test.Fatalf("refresh: %v", err)
	}
	if _, err := catalog.Tier(context.Background(), 1); err != nil {
		test.Fatalf("tier after refresh: %v", err)
	}
	if source.getCalls != 0 {
		test.Fatalf("refresh must fill the cache, got %d source hits", source.getCalls)
	}
	all, err := catalog.All(context.Background())
	if err != nil || len(all) != 2 {
		test.Fatalf("expected 2 tiers, got %d (err %v)", len(all), err)
	}
}
