package core

import "github.com/shopspring/decimal"

// Totals is always recomputed from the full record lists.
type Totals struct {
	CumulativeSaved decimal.Decimal
	CumulativeCost  decimal.Decimal
	// ServerReportedSum is only valid in remote mode after a successful /sum fetch.
	ServerReportedSum decimal.NullDecimal
}

// Balance is what is left after withdrawals.
func (t Totals) Balance() decimal.Decimal {
	return t.CumulativeSaved.Sub(t.CumulativeCost)
}

// ComputeTotals derives totals from the record lists. When serverSum is valid
// it replaces the locally computed saved amount.
func ComputeTotals(savings []SavingRecord, costs []CostRecord, serverSum decimal.NullDecimal) Totals {
	saved := decimal.Zero
	for _, s := range savings {
		if s.Confirmed {
			saved = saved.Add(s.Amount)
		}
	}
	cost := decimal.Zero
	for _, c := range costs {
		cost = cost.Add(c.Amount)
	}
	t := Totals{
		CumulativeSaved:   saved,
		CumulativeCost:    cost,
		ServerReportedSum: serverSum,
	}
	if serverSum.Valid {
		t.CumulativeSaved = serverSum.Decimal
	}
	return t
}
