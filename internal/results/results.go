// Package results computes the statistics shown once a turn is
// revealed. Sentinel cards count toward the raw vote total but are
// excluded from every numeric figure so a table full of "?" never
// implies a consensus of zero.
package results

import (
	"math"
	"sort"

	"github.com/lydongcanh/sprintopia/internal/estimation"
	"github.com/lydongcanh/sprintopia/pkg/wire"
)

// DefaultConsensusThreshold is the max spread in points between the
// highest and lowest valid vote that still counts as consensus.
const DefaultConsensusThreshold = 2

// Stats holds the numeric figures over non-sentinel votes. It is
// absent from a Summary when no valid votes exist.
type Stats struct {
	Average float64
	Median  float64
	Min     float64
	Max     float64
	// Spread is Max - Min, the figure consensus is judged on.
	Spread       float64
	HasConsensus bool
}

// Group is the set of voters that played the same card.
type Group struct {
	Value  float64
	Label  string
	Voters []string
}

// Summary describes one revealed turn.
type Summary struct {
	// Count is the raw vote total, sentinels included.
	Count int
	// ValidCount is the number of votes entering numeric stats.
	ValidCount int
	// Stats is nil when ValidCount is zero.
	Stats *Stats
	// Groups is ordered ascending by card value with sentinels last.
	Groups []Group
}

// Summarize aggregates a revealed vote list. threshold <= 0 falls back
// to DefaultConsensusThreshold.
func Summarize(votes []wire.Vote, threshold float64) Summary {
	if threshold <= 0 {
		threshold = DefaultConsensusThreshold
	}

	summary := Summary{Count: len(votes), Groups: groupVotes(votes)}

	valid := make([]float64, 0, len(votes))
	for _, v := range votes {
		if !estimation.IsSentinel(v.Value) {
			valid = append(valid, v.Value)
		}
	}
	summary.ValidCount = len(valid)
	if len(valid) == 0 {
		return summary
	}

	sort.Float64s(valid)
	sum := 0.0
	for _, v := range valid {
		sum += v
	}

	min, max := valid[0], valid[len(valid)-1]
	stats := &Stats{
		Average:      roundTenth(sum / float64(len(valid))),
		Median:       median(valid),
		Min:          min,
		Max:          max,
		Spread:       max - min,
		HasConsensus: max-min <= threshold,
	}
	summary.Stats = stats
	return summary
}

// median expects values sorted ascending: the middle value for odd
// counts, the mean of the two middle values for even counts.
func median(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 0 {
		return (sorted[n/2-1] + sorted[n/2]) / 2
	}
	return sorted[n/2]
}

func roundTenth(v float64) float64 {
	return math.Round(v*10) / 10
}

func groupVotes(votes []wire.Vote) []Group {
	byValue := map[float64][]string{}
	for _, v := range votes {
		byValue[v.Value] = append(byValue[v.Value], v.FullName)
	}

	values := make([]float64, 0, len(byValue))
	for v := range byValue {
		values = append(values, v)
	}
	sort.Slice(values, func(i, j int) bool {
		a, b := values[i], values[j]
		// Sentinels sort after every numeric size.
		if estimation.IsSentinel(a) != estimation.IsSentinel(b) {
			return !estimation.IsSentinel(a)
		}
		return a < b
	})

	groups := make([]Group, 0, len(values))
	for _, v := range values {
		groups = append(groups, Group{
			Value:  v,
			Label:  estimation.CardLabel(v),
			Voters: byValue[v],
		})
	}
	return groups
}
