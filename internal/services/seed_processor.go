package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"piggysaving/internal/core"
	"piggysaving/internal/log"
)

// MaxBackfillDays bounds how many missed days one run will seed.
const MaxBackfillDays = 31

// Seeder is the part of storage.SQLiteRepository the processor writes to.
type Seeder interface {
	SeedSaving(ctx context.Context, date core.Date, amount decimal.Decimal) (core.SavingRecord, bool, error)
	Last(ctx context.Context) (core.SavingRecord, error)
}

// SeedProcessor creates the daily proposal in the local store.
type SeedProcessor struct {
	repo     Seeder
	proposer *Proposer
	logger   *log.Logger
}

func NewSeedProcessor(repo Seeder, proposer *Proposer, logger *log.Logger) *SeedProcessor {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &SeedProcessor{
		repo:     repo,
		proposer: proposer,
		logger:   logger.WithComponent(log.ComponentScheduler),
	}
}

// SeedToday inserts a proposal for date unless one exists. It returns the
// stored record and whether this call created it.
func (p *SeedProcessor) SeedToday(ctx context.Context, date core.Date) (core.SavingRecord, bool, error) {
	if p.repo == nil || p.proposer == nil {
		return core.SavingRecord{}, false, fmt.Errorf("seed processor not properly initialized")
	}

	rec, created, err := p.repo.SeedSaving(ctx, date, p.proposer.Propose())
	if err != nil {
		return core.SavingRecord{}, false, fmt.Errorf("seed saving %s: %w", date, err)
	}
	if created {
		p.logger.InfoContext(ctx, "Seeded daily proposal",
			log.FieldOperation, log.OpSeed,
			log.FieldDate, rec.Date.String(),
			log.FieldAmount, rec.Amount.StringFixed(2))
	}
	return rec, created, nil
}

// ProcessDue seeds every day from the one after the latest saving up to and
// including today, so days missed while the worker was down still get a
// proposal. At most MaxBackfillDays are seeded per run, ending at today.
func (p *SeedProcessor) ProcessDue(ctx context.Context, today core.Date) (int, error) {
	if p.repo == nil || p.proposer == nil {
		return 0, fmt.Errorf("seed processor not properly initialized")
	}

	start := today
	last, err := p.repo.Last(ctx)
	switch {
	case errors.Is(err, core.ErrRecordNotFound):
	case err != nil:
		return 0, fmt.Errorf("get last saving: %w", err)
	case !last.Date.Before(today):
		return 0, nil
	default:
		start = addDays(last.Date, 1)
	}
	if earliest := addDays(today, -(MaxBackfillDays - 1)); start.Before(earliest) {
		p.logger.WarnContext(ctx, "Backfill window exceeded, skipping older days",
			"from", start.String(), "to", earliest.String())
		start = earliest
	}

	created := 0
	for d := start; !today.Before(d); d = addDays(d, 1) {
		if err := ctx.Err(); err != nil {
			return created, err
		}
		_, ok, err := p.SeedToday(ctx, d)
		if err != nil {
			return created, err
		}
		if ok {
			created++
		}
	}

	p.logger.InfoContext(ctx, "Daily proposal processing complete",
		log.FieldCount, created,
		log.FieldDate, today.String())
	return created, nil
}

func addDays(d core.Date, n int) core.Date {
	return core.DateOf(d.AddDate(0, 0, n))
}
