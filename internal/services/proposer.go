// Package services holds the jobs that create data rather than reconcile it:
// choosing each day's proposal and seeding it into the local store.
package services

import (
	"fmt"
	"math/rand/v2"

	"github.com/shopspring/decimal"
)

// Proposer picks the amount suggested for a day. Amounts are whole cents
// drawn uniformly from [min, max].
type Proposer struct {
	minCents int64
	maxCents int64
	rng      *rand.Rand
}

// NewProposer returns a Proposer over [min, max]. A nil src seeds from the
// runtime's random source.
func NewProposer(min, max decimal.Decimal, src rand.Source) (*Proposer, error) {
	if min.IsNegative() {
		return nil, fmt.Errorf("proposal minimum %s must not be negative", min)
	}
	if max.LessThan(min) {
		return nil, fmt.Errorf("proposal range %s-%s: max below min", min, max)
	}
	if src == nil {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	return &Proposer{
		minCents: min.Shift(2).Ceil().IntPart(),
		maxCents: max.Shift(2).Floor().IntPart(),
		rng:      rand.New(src),
	}, nil
}

// Propose returns a fresh amount. Calling it again is the "roll again" action.
func (p *Proposer) Propose() decimal.Decimal {
	span := p.maxCents - p.minCents
	cents := p.minCents
	if span > 0 {
		cents += p.rng.Int64N(span + 1)
	}
	return decimal.New(cents, -2)
}
