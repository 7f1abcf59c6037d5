package blackjack

// BlackjackTotal is the target hand total.
const BlackjackTotal = 21

// CalculateTotal scores a hand with the standard soft/hard rule: every ace
// starts at 11 and is downgraded by ten, one ace at a time, while the total
// exceeds 21.
func CalculateTotal(cards []Rank) int {
	total := 0
	softAces := 0
	for _, card := range cards {
		total += Value(card)
		if card == RankAce {
			softAces++
		}
	}
	for total > BlackjackTotal && softAces > 0 {
		total -= 10
		softAces--
	}
	return total
}

// IsBust reports a hand total above 21.
func IsBust(cards []Rank) bool {
	return CalculateTotal(cards) > BlackjackTotal
}

// IsPair reports whether a two-card starting hand shares rank.
func IsPair(cards []Rank) bool {
	return len(cards) == 2 && cards[0] == cards[1]
}

// Action is a player decision offered at the table.
type Action string

const (
	ActionBet         Action = "bet"
	ActionHit         Action = "hit"
	ActionStand       Action = "stand"
	ActionDouble      Action = "double"
	ActionSurrender   Action = "surrender"
	ActionSplit       Action = "split"
	ActionInsurance   Action = "insurance"
	ActionNoInsurance Action = "no-insurance"
)

// StartingActions returns the decision set offered on the two starting
// cards: a pair offers split only, anything else the full set.
func StartingActions(cards []Rank) []Action {
	if IsPair(cards) {
		return []Action{ActionSplit}
	}
	return []Action{ActionHit, ActionStand, ActionDouble, ActionSurrender}
}

// ContinuingActions is the reduced set offered after the first hit.
func ContinuingActions() []Action {
	return []Action{ActionHit, ActionStand}
}
