package estimation

import "strconv"

// Card values a participant may vote with. Deck holds the numeric
// story-point sizes; the sentinels are out-of-band values that never
// enter numeric statistics.
var Deck = []float64{0.5, 1, 2, 3, 5, 8, 13, 21}

const (
	// ValueUnknown means "no idea / too complex to size".
	ValueUnknown float64 = -1
	// ValueBreak means the participant needs a break.
	ValueBreak float64 = -2
)

// IsSentinel reports whether v is one of the out-of-band card values.
func IsSentinel(v float64) bool {
	return v == ValueUnknown || v == ValueBreak
}

// ValidCard reports whether v is a playable card, sentinels included.
func ValidCard(v float64) bool {
	if IsSentinel(v) {
		return true
	}
	for _, d := range Deck {
		if v == d {
			return true
		}
	}
	return false
}

// CardLabel renders a card value the way the deck displays it.
func CardLabel(v float64) string {
	switch v {
	case ValueUnknown:
		return "?"
	case ValueBreak:
		return "☕"
	case 0.5:
		return "½"
	default:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
}
