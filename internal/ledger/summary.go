package ledger

import (
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/konzern/internal/shared"
)

// Summary aggregates entries of one statement or run.
type Summary struct {
	EntryCount   int                                `json:"entry_count"`
	CountsByType map[AdjustmentType]int             `json:"counts_by_type"`
	AmountByType map[AdjustmentType]decimal.Decimal `json:"amount_by_type"`
	ByStatus     map[Status]int                     `json:"by_status"`
	TotalAmount  decimal.Decimal                    `json:"total_amount"`
}

// Summarize counts entries by type and status and totals their amounts.
func Summarize(entries []Entry) Summary {
	sum := Summary{
		CountsByType: make(map[AdjustmentType]int),
		AmountByType: make(map[AdjustmentType]decimal.Decimal),
		ByStatus:     make(map[Status]int),
		TotalAmount:  decimal.Zero,
	}
	for _, e := range entries {
		sum.EntryCount++
		sum.CountsByType[e.AdjustmentType]++
		sum.AmountByType[e.AdjustmentType] = sum.AmountByType[e.AdjustmentType].Add(e.Amount)
		sum.ByStatus[e.Status]++
		sum.TotalAmount = sum.TotalAmount.Add(e.Amount)
	}
	sum.TotalAmount = shared.Round(sum.TotalAmount)
	return sum
}
