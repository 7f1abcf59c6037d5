package session

import (
	"context"
	"testing"

	"github.com/MarkoPoloResearchLab/jackhouse/pkg/blackjack"
)

func TestMemoryCacheDeckRoundTrip(test *testing.T) {
	test.Parallel()
	cache := NewMemoryCache()
	ctx := context.Background()

	if _, ok, err := cache.GetDeck(ctx, "room-1"); err != nil || ok {
		test.Fatalf("expected miss on empty cache, ok=%v err=%v", ok, err)
	}
	deck := blackjack.NewShoe()
	if err := cache.SetDeck(ctx, "room-1", deck); err != nil {
		test.Fatalf("set deck: %v", err)
	}
	stored, ok, err := cache.GetDeck(ctx, "room-1")
	if err != nil || !ok {
		test.Fatalf("get deck: ok=%v err=%v", ok, err)
	}
	if len(stored) != blackjack.ShoeSize {
		test.Fatalf("expected %d cards, got %d", blackjack.ShoeSize, len(stored))
	}
	// Returned slices are copies; mutating one must not leak into the cache.
	stored[0] = "mutated"
	again, _, _ := cache.GetDeck(ctx, "room-1")
	if again[0] == "mutated" {
		test.Fatalf("cache leaked internal slice")
	}
}

func TestMemoryCacheHandsAndStates(test *testing.T) {
	test.Parallel()
	cache := NewMemoryCache()
	ctx := context.Background()

	if err := cache.SetHand(ctx, "room-2", DealerHolder, []blackjack.Rank{"A", "6"}); err != nil {
		test.Fatalf("set dealer hand: %v", err)
	}
	if err := cache.SetHand(ctx, "room-2", "player-1", []blackjack.Rank{"8", "5"}); err != nil {
		test.Fatalf("set player hand: %v", err)
	}
	if err := cache.SetState(ctx, "room-2", "player-1", State{Bets: []int64{100}}); err != nil {
		test.Fatalf("set state: %v", err)
	}

	count, err := cache.CountStates(ctx, "room-2")
	if err != nil || count != 1 {
		test.Fatalf("expected 1 state, got %d (err %v)", count, err)
	}

	if err := cache.DeleteRoom(ctx, "room-2"); err != nil {
		test.Fatalf("delete room: %v", err)
	}
	if _, ok, _ := cache.GetHand(ctx, "room-2", DealerHolder); ok {
		test.Fatalf("dealer hand survived room delete")
	}
	if _, ok, _ := cache.GetState(ctx, "room-2", "player-1"); ok {
		test.Fatalf("state survived room delete")
	}
}

func TestStateSplitHelpers(test *testing.T) {
	test.Parallel()
	state := State{Bets: []int64{100}}
	if state.IsSplit() {
		test.Fatalf("single hand must not report split")
	}
	if state.Stake(0) != 100 || state.Stake(1) != 0 {
		test.Fatalf("unexpected stakes: %d %d", state.Stake(0), state.Stake(1))
	}
	state.SplitHands = [][]blackjack.Rank{{"8", "2"}, {"8", "K"}}
	state.Bets = []int64{100, 100}
	if !state.IsSplit() {
		test.Fatalf("two hands must report split")
	}
}
