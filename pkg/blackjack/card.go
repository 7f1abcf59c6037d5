package blackjack

import "math/rand"

// Rank is a card collapsed to its rank symbol; suits never matter at a
// blackjack table so the shoe is a multiset of rank symbols.
type Rank string

const (
	RankAce   Rank = "A"
	RankJack  Rank = "J"
	RankQueen Rank = "Q"
	RankKing  Rank = "K"
)

var shoeRanks = []Rank{"2", "3", "4", "5", "6", "7", "8", "9", "10", RankJack, RankQueen, RankKing, RankAce}

const (
	suitsPerRank = 4
	// ShoeSize is one standard 52-card deck.
	ShoeSize = 52
)

// NewShoe returns a fresh single-deck shoe: four of each rank.
func NewShoe() []Rank {
	shoe := make([]Rank, 0, ShoeSize)
	for suit := 0; suit < suitsPerRank; suit++ {
		shoe = append(shoe, shoeRanks...)
	}
	return shoe
}

// Draw removes one card chosen by pick(len(shoe)) without replacement.
// pick must return an index in [0, n). An exhausted shoe is the caller's
// concern; Draw panics on an empty slice like any index would.
func Draw(shoe []Rank, pick func(n int) int) (Rank, []Rank) {
	index := pick(len(shoe))
	card := shoe[index]
	remaining := append([]Rank(nil), shoe[:index]...)
	remaining = append(remaining, shoe[index+1:]...)
	return card, remaining
}

// DrawRandom draws uniformly at random.
func DrawRandom(shoe []Rank) (Rank, []Rank) {
	return Draw(shoe, rand.Intn)
}

// Value returns the base card value: ace 11, faces 10, numerals pip value.
func Value(rank Rank) int {
	switch rank {
	case RankAce:
		return 11
	case RankJack, RankQueen, RankKing, "10":
		return 10
	case "2":
		return 2
	case "3":
		return 3
	case "4":
		return 4
	case "5":
		return 5
	case "6":
		return 6
	case "7":
		return 7
	case "8":
		return 8
	case "9":
		return 9
	}
	return 0
}

// IsTenValue reports whether the rank counts ten (10/J/Q/K), the dealer
// hole-card check behind the insurance decision.
func IsTenValue(rank Rank) bool {
	return rank != RankAce && Value(rank) == 10
}
