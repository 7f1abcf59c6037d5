package blackjack

import (
	"reflect"
	"testing"
)

func TestCalculateTotalSoftHardRule(test *testing.T) {
	test.Parallel()
	cases := []struct {
		name  string
		cards []Rank
		total int
	}{
		{"ace king is twenty one", []Rank{"A", "K"}, 21},
		{"two aces and nine", []Rank{"A", "A", "9"}, 21},
		{"faces bust", []Rank{"K", "Q", "5"}, 25},
		{"hard sixteen", []Rank{"10", "6"}, 16},
		{"soft seventeen", []Rank{"A", "6"}, 17},
		{"downgraded ace", []Rank{"A", "6", "10"}, 17},
		{"four aces", []Rank{"A", "A", "A", "A"}, 14},
		{"ten jack ace", []Rank{"10", "J", "A"}, 21},
	}
	for _, testCase := range cases {
		if got := CalculateTotal(testCase.cards); got != testCase.total {
			test.Errorf("%s: CalculateTotal(%v) = %d, want %d", testCase.name, testCase.cards, got, testCase.total)
		}
	}
}

func TestIsBust(test *testing.T) {
	test.Parallel()
	if !IsBust([]Rank{"K", "Q", "5"}) {
		test.Fatalf("25 must be bust")
	}
	if IsBust([]Rank{"A", "K"}) {
		test.Fatalf("21 must not be bust")
	}
}

func TestStartingActions(test *testing.T) {
	test.Parallel()
	pairActions := StartingActions([]Rank{"8", "8"})
	if !reflect.DeepEqual(pairActions, []Action{ActionSplit}) {
		test.Fatalf("pair must offer split only, got %v", pairActions)
	}
	normalActions := StartingActions([]Rank{"8", "5"})
	expected := []Action{ActionHit, ActionStand, ActionDouble, ActionSurrender}
	if !reflect.DeepEqual(normalActions, expected) {
		test.Fatalf("expected %v, got %v", expected, normalActions)
	}
}

func TestDrawWithoutReplacement(test *testing.T) {
	test.Parallel()
	shoe := NewShoe()
	if len(shoe) != ShoeSize {
		test.Fatalf("fresh shoe has %d cards, want %d", len(shoe), ShoeSize)
	}
	seen := map[Rank]int{}
	remaining := shoe
	var card Rank
	for len(remaining) > 0 {
		card, remaining = Draw(remaining, func(n int) int { return 0 })
		seen[card]++
	}
	if len(seen) != 13 {
		test.Fatalf("expected 13 distinct ranks, got %d", len(seen))
	}
	for rank, count := range seen {
		if count != 4 {
			test.Fatalf("rank %s drawn %d times, want 4", rank, count)
		}
	}
}

func TestDrawRemovesChosenCard(test *testing.T) {
	test.Parallel()
	shoe := []Rank{"2", "K", "A"}
	card, remaining := Draw(shoe, func(n int) int { return 1 })
	if card != "K" {
		test.Fatalf("expected K, got %s", card)
	}
	if !reflect.DeepEqual(remaining, []Rank{"2", "A"}) {
		test.Fatalf("unexpected remaining shoe %v", remaining)
	}
	if !reflect.DeepEqual(shoe, []Rank{"2", "K", "A"}) {
		test.Fatalf("input shoe mutated: %v", shoe)
	}
}
