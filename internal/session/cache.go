// Package session holds the ephemeral per-room deck, hand, and flag state
// of hands in flight. The narrow typed interface replaces an arbitrary
// key/value cache so a redis-style backend stays pluggable without string
// keys leaking through the game engine.
package session

import (
	"context"

	"github.com/MarkoPoloResearchLab/jackhouse/pkg/blackjack"
)

// DealerHolder keys the dealer's hand inside a room.
const DealerHolder = "dealer"

// State is the per-(room, player) hand record: stake, decision flags, and
// the split layout once a pair has been split. Before a split, the single
// hand lives in hand storage under the player's own holder key and Bets
// holds exactly one stake.
type State struct {
	Bets             []int64
	SplitHands       [][]blackjack.Rank
	CurrentHand      int
	InsuranceDecided bool
	InsuranceTaken   bool
	Doubled          bool
	Surrendered      bool
}

// Stake returns the stake riding on hand index.
func (state State) Stake(index int) int64 {
	if index < 0 || index >= len(state.Bets) {
		return 0
	}
	return state.Bets[index]
}

// IsSplit reports whether the pair has been split into multiple hands.
func (state State) IsSplit() bool {
	return len(state.SplitHands) > 1
}

// Cache is the typed session store scoped per room.
type Cache interface {
	GetDeck(ctx context.Context, roomID string) ([]blackjack.Rank, bool, error)
	SetDeck(ctx context.Context, roomID string, deck []blackjack.Rank) error
	GetHand(ctx context.Context, roomID string, holder string) ([]blackjack.Rank, bool, error)
	SetHand(ctx context.Context, roomID string, holder string, cards []blackjack.Rank) error
	DeleteHand(ctx context.Context, roomID string, holder string) error
	GetState(ctx context.Context, roomID string, playerID string) (State, bool, error)
	SetState(ctx context.Context, roomID string, playerID string, state State) error
	DeleteState(ctx context.Context, roomID string, playerID string) error
	CountStates(ctx context.Context, roomID string) (int, error)
	DeleteRoom(ctx context.Context, roomID string) error
}
