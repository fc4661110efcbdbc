package ranking

import (
	"github.com/shopspring/decimal"

	"pts-reporter/internal/types"
)

// Select drops entries below the liquidity threshold and truncates to
// the top n in existing order. The upstream order is the ranking order,
// so no re-sorting happens here. Pure: same input, same output.
func Select(entries []types.RankingEntry, minVolume int64, topN int) []types.RankingEntry {
	if topN <= 0 {
		return nil
	}
	var out []types.RankingEntry
	for _, e := range entries {
		if e.Volume < minVolume {
			continue
		}
		out = append(out, e)
		if len(out) == topN {
			break
		}
	}
	return out
}

// Stats summarizes a selected entry list for the report trailer.
type Stats struct {
	Count         int
	AvgChangeRate decimal.Decimal
	MaxChangeRate decimal.Decimal
	TotalVolume   int64
}

// Summarize computes summary statistics over the selected entries.
func Summarize(entries []types.RankingEntry) Stats {
	if len(entries) == 0 {
		return Stats{}
	}

	sum := decimal.Zero
	max := entries[0].ChangeRate
	var volume int64
	for _, e := range entries {
		sum = sum.Add(e.ChangeRate)
		if e.ChangeRate.GreaterThan(max) {
			max = e.ChangeRate
		}
		volume += e.Volume
	}

	return Stats{
		Count:         len(entries),
		AvgChangeRate: sum.Div(decimal.NewFromInt(int64(len(entries)))),
		MaxChangeRate: max,
		TotalVolume:   volume,
	}
}
