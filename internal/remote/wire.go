package remote

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"piggysaving/internal/core"
)

// AllRequest is the body of POST /all.
type AllRequest struct {
	Desc     bool `json:"desc"`
	Withdraw bool `json:"withdraw"`
}

// SaveRequest is the body of POST /save.
type SaveRequest struct {
	Date  string `json:"date"`
	Saved bool   `json:"saved"`
}

// WireRecord is one value of the /all mapping. Saved is absent for costs.
type WireRecord struct {
	Date   string      `json:"date"`
	Amount json.Number `json:"amount"`
	Saved  Flag        `json:"saved"`
}

type SumResponse struct {
	Sum json.Number `json:"sum"`
}

// WireLast is one value of the /last mapping.
type WireLast struct {
	Amount json.Number `json:"amount"`
	Saved  Flag        `json:"saved"`
}

// Flag decodes either a JSON boolean or a 0/1 integer. It encodes as 0/1,
// the form the server side has always produced.
type Flag bool

func (f *Flag) UnmarshalJSON(b []byte) error {
	switch string(bytes.TrimSpace(b)) {
	case "true", "1", `"1"`, `"true"`:
		*f = true
	case "false", "0", `"0"`, `"false"`, "null":
		*f = false
	default:
		return fmt.Errorf("invalid flag %s", b)
	}
	return nil
}

func (f Flag) MarshalJSON() ([]byte, error) {
	if f {
		return []byte("1"), nil
	}
	return []byte("0"), nil
}

func parseAmount(n json.Number) (decimal.Decimal, error) {
	if n == "" {
		return decimal.Zero, fmt.Errorf("missing amount")
	}
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("amount %q: %w", n, err)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("amount %s: %w", d, core.ErrInvalidAmount)
	}
	return d, nil
}

func (w WireRecord) toSaving(key string) (core.SavingRecord, error) {
	date, err := core.ParseDate(w.Date)
	if err != nil {
		return core.SavingRecord{}, fmt.Errorf("record %s: %w", key, err)
	}
	amount, err := parseAmount(w.Amount)
	if err != nil {
		return core.SavingRecord{}, fmt.Errorf("record %s: %w", key, err)
	}
	return core.SavingRecord{ID: key, Date: date, Amount: amount, Confirmed: bool(w.Saved)}, nil
}

func (w WireRecord) toCost(key string) (core.CostRecord, error) {
	date, err := core.ParseDate(w.Date)
	if err != nil {
		return core.CostRecord{}, fmt.Errorf("record %s: %w", key, err)
	}
	amount, err := parseAmount(w.Amount)
	if err != nil {
		return core.CostRecord{}, fmt.Errorf("record %s: %w", key, err)
	}
	return core.CostRecord{ID: key, Date: date, Amount: amount}, nil
}

// NewWireSaving renders a saving the way /all returns it.
func NewWireSaving(s core.SavingRecord) WireRecord {
	return WireRecord{
		Date:   s.Date.String(),
		Amount: json.Number(s.Amount.StringFixed(2)),
		Saved:  Flag(s.Confirmed),
	}
}

// NewWireCost renders a cost the way /all returns it.
func NewWireCost(c core.CostRecord) WireRecord {
	return WireRecord{
		Date:   c.Date.String(),
		Amount: json.Number(c.Amount.StringFixed(2)),
	}
}
