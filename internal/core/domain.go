package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the only accepted wire and storage format for dates.
const DateLayout = "2006-01-02"

const (
	KindSaving RecordKind = "saving"
	KindCost   RecordKind = "cost"
)

type (
	RecordKind string

	Date struct {
		time.Time
	}

	// SavingRecord is one day's proposed saving. Amount never changes after
	// creation; Confirmed only ever moves from false to true.
	SavingRecord struct {
		ID        string
		Date      Date
		Amount    decimal.Decimal
		Confirmed bool
	}

	// CostRecord is a withdrawal from accumulated savings.
	CostRecord struct {
		ID     string
		Date   Date
		Amount decimal.Decimal
	}

	// LastSaving is the most recent proposal as reported by the remote side.
	LastSaving struct {
		Amount    decimal.Decimal
		Confirmed bool
	}

	// Config is owned by the configuration layer; the core only reads it.
	Config struct {
		UsingRemote        bool
		RemoteBaseURL      string
		WithdrawalsEnabled bool
		Initialized        bool
	}
)

var (
	ErrInvalidDate   = errors.New("invalid date")
	ErrInvalidAmount = errors.New("invalid amount")
)

// Validate rejects the zero date. Day and month are always in range because
// time.Time normalizes them.
func (d Date) Validate() error {
	if d.IsZero() {
		return fmt.Errorf("%w: date cannot be zero", ErrInvalidDate)
	}
	return nil
}

// Day returns the day of the month
func (d Date) Day() int {
	return d.Time.Day()
}

// Month returns the month
func (d Date) Month() int {
	return int(d.Time.Month())
}

// Year returns the year
func (d Date) Year() int {
	return d.Time.Year()
}

// String formats the date as YYYY-MM-DD.
func (d Date) String() string {
	return d.Format(DateLayout)
}

// MonthKey returns the "YYYY-MM" bucket key for the date.
func (d Date) MonthKey() string {
	return fmt.Sprintf("%04d-%02d", d.Year(), d.Month())
}

// Before reports whether d is strictly earlier than other.
func (d Date) Before(other Date) bool {
	return d.Time.Before(other.Time)
}

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar day in t's location and returns it as a UTC Date.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return NewDate(y, int(m), d)
}

// Today returns the current local calendar day.
func Today() Date {
	return DateOf(time.Now())
}

// ParseDate parses a strictly formatted YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("%w %q: %v", ErrInvalidDate, s, err)
	}
	return Date{Time: t}, nil
}

// MustParseDate is ParseDate for literals known to be valid.
func MustParseDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// ValidateAmount rejects negative amounts. Zero is allowed for seeded savings.
func ValidateAmount(a decimal.Decimal) error {
	if a.IsNegative() {
		return ErrInvalidAmount
	}
	return nil
}

func (s SavingRecord) Validate() error {
	if err := s.Date.Validate(); err != nil {
		return err
	}
	return ValidateAmount(s.Amount)
}

// Confirm returns a copy of the record with Confirmed set.
func (s SavingRecord) Confirm() SavingRecord {
	s.Confirmed = true
	return s
}

func (c CostRecord) Validate() error {
	if err := c.Date.Validate(); err != nil {
		return err
	}
	if !c.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	return nil
}

// RecordDate and RecordAmount let both record kinds be aggregated generically.
func (s SavingRecord) RecordDate() Date              { return s.Date }
func (s SavingRecord) RecordAmount() decimal.Decimal { return s.Amount }
func (c CostRecord) RecordDate() Date                { return c.Date }
func (c CostRecord) RecordAmount() decimal.Decimal   { return c.Amount }
