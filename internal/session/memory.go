package session

import (
	"context"
	"sync"

	"github.com/MarkoPoloResearchLab/jackhouse/pkg/blackjack"
)

// MemoryCache is the in-process Cache used by a single-node deployment.
type MemoryCache struct {
	mu     sync.RWMutex
	decks  map[string][]blackjack.Rank
	hands  map[string]map[string][]blackjack.Rank
	states map[string]map[string]State
}

// NewMemoryCache returns an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		decks:  map[string][]blackjack.Rank{},
		hands:  map[string]map[string][]blackjack.Rank{},
		states: map[string]map[string]State{},
	}
}

func (cache *MemoryCache) GetDeck(ctx context.Context, roomID string) ([]blackjack.Rank, bool, error) {
	cache.mu.RLock()
	defer cache.mu.RUnlock()
	deck, ok := cache.decks[roomID]
	if !ok {
		return nil, false, nil
	}
	return append([]blackjack.Rank(nil), deck...), true, nil
}

func (cache *MemoryCache) SetDeck(ctx context.Context, roomID string, deck []blackjack.Rank) error {
	cache.mu.Lock()
	defer cache.mu.Unlock()
	cache.decks[roomID] = append([]blackjack.Rank(nil), deck...)
	return nil
}

func (cache *MemoryCache) GetHand(ctx context.Context, roomID string, holder string) ([]blackjack.Rank, bool, error) {
	cache.mu.RLock()
	defer cache.mu.RUnlock()
	hand, ok := cache.hands[roomID][holder]
	if !ok {
		return nil, false, nil
	}
	return append([]blackjack.Rank(nil), hand...), true, nil
}

func (cache *MemoryCache) SetHand(ctx context.Context, roomID string, holder string, cards []blackjack.Rank) error {
	cache.mu.Lock()
	defer cache.mu.Unlock()
	if cache.hands[roomID] == nil {
		cache.hands[roomID] = map[string][]blackjack.Rank{}
	}
	cache.hands[roomID][holder] = append([]blackjack.Rank(nil), cards...)
	return nil
}

func (cache *MemoryCache) DeleteHand(ctx context.Context, roomID string, holder string) error {
	cache.mu.Lock()
	defer cache.mu.Unlock()
	delete(cache.hands[roomID], holder)
	return nil
}

func (cache *MemoryCache) GetState(ctx context.Context, roomID string, playerID string) (State, bool, error) {
	cache.mu.RLock()
	defer cache.mu.RUnlock()
	state, ok := cache.states[roomID][playerID]
	return state, ok, nil
}

func (cache *MemoryCache) SetState(ctx context.Context, roomID string, playerID string, state State) error {
	cache.mu.Lock()
	defer cache.mu.Unlock()
	if cache.states[roomID] == nil {
		cache.states[roomID] = map[string]State{}
	}
	cache.states[roomID][playerID] = state
	return nil
}

func (cache *MemoryCache) DeleteState(ctx context.Context, roomID string, playerID string) error {
	cache.mu.Lock()
	defer cache.mu.Unlock()
	delete(cache.states[roomID], playerID)
	return nil
}

func (cache *MemoryCache) CountStates(ctx context.Context, roomID string) (int, error) {
	cache.mu.RLock()
	defer cache.mu.RUnlock()
	return len(cache.states[roomID]), nil
}

func (cache *MemoryCache) DeleteRoom(ctx context.Context, roomID string) error {
	cache.mu.Lock()
	defer cache.mu.Unlock()
	delete(cache.decks, roomID)
	delete(cache.hands, roomID)
	delete(cache.states, roomID)
	return nil
}
