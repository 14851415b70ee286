// Package datastore holds the in-memory savings model and reconciles it with
// whichever backend the configuration selects.
package datastore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"piggysaving/internal/core"
	"piggysaving/internal/log"
)

// RemoteClient is the subset of remote.Client the store drives.
type RemoteClient interface {
	FetchAllSavings(ctx context.Context, baseURL string, sortDescending bool) ([]core.SavingRecord, error)
	FetchAllCosts(ctx context.Context, baseURL string, sortDescending bool) ([]core.CostRecord, error)
	FetchSum(ctx context.Context, baseURL string) (decimal.Decimal, error)
	ConfirmSaving(ctx context.Context, baseURL string, date core.Date, confirmed bool) error
}

// LocalStore is the subset of storage.SQLiteRepository the store drives.
type LocalStore interface {
	FetchSavings(ctx context.Context) ([]core.SavingRecord, error)
	FetchCosts(ctx context.Context) ([]core.CostRecord, error)
	MarkConfirmed(ctx context.Context, date core.Date) error
	InsertCost(ctx context.Context, c core.CostRecord) (core.CostRecord, error)
}

type Option func(*Store)

func WithRemote(rc RemoteClient) Option { return func(s *Store) { s.remote = rc } }

func WithLocal(ls LocalStore) Option { return func(s *Store) { s.local = ls } }

func WithPublisher(p Publisher) Option { return func(s *Store) { s.publisher = p } }

func WithLogger(l *log.Logger) Option { return func(s *Store) { s.logger = l } }

// WithFetchTimeout bounds each shared backend fetch. Zero leaves the bound
// to the backend client.
func WithFetchTimeout(d time.Duration) Option { return func(s *Store) { s.fetchTimeout = d } }

// Store is safe for concurrent use. Reads take the read lock only; refresh
// write-back is serialized by mu and confirmations by a per-date lock.
type Store struct {
	cfg       core.Config
	remote    RemoteClient
	local     LocalStore
	publisher Publisher
	logger    *log.Logger

	mu             sync.RWMutex
	savings        []core.SavingRecord
	costs          []core.CostRecord
	serverSum      decimal.NullDecimal
	totals         core.Totals
	expanded       map[core.RecordKind]map[string]bool
	sortDescending bool

	lockMu    sync.Mutex
	dateLocks map[string]*sync.Mutex

	fetches      singleflight.Group
	fetchTimeout time.Duration

	bgMu   sync.Mutex
	bg     sync.WaitGroup
	closed bool

	subMu     sync.Mutex
	subs      map[int]chan Event
	nextSubID int
}

func New(cfg core.Config, opts ...Option) (*Store, error) {
	s := &Store{
		cfg: cfg,
		expanded: map[core.RecordKind]map[string]bool{
			core.KindSaving: {},
			core.KindCost:   {},
		},
		sortDescending: true,
		dateLocks:      make(map[string]*sync.Mutex),
		subs:           make(map[int]chan Event),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.New(log.DefaultConfig())
	}
	s.logger = s.logger.WithComponent(log.ComponentDataStore)

	if cfg.UsingRemote && s.remote == nil {
		return nil, errors.New("remote mode requires a remote client")
	}
	if !cfg.UsingRemote && s.local == nil {
		return nil, errors.New("local mode requires a local store")
	}
	s.totals = core.ComputeTotals(nil, nil, decimal.NullDecimal{})
	return s, nil
}

// Config returns the configuration the store was built with.
func (s *Store) Config() core.Config { return s.cfg }

func (s *Store) mode() string {
	if s.cfg.UsingRemote {
		return "remote"
	}
	return "local"
}

// Refresh reloads savings, costs and, in remote mode, the server sum. The
// three fetches run concurrently and each success is applied on its own, so
// a failed fetch never discards the others. Failures come back as
// *UserError values in a fixed order: savings, costs, sum.
func (s *Store) Refresh(ctx context.Context, sortDescending bool) []error {
	if !s.cfg.Initialized {
		s.logger.DebugContext(ctx, "Skipping refresh before initialization")
		return nil
	}

	s.mu.Lock()
	s.sortDescending = sortDescending
	s.mu.Unlock()

	var errs []error
	if s.cfg.UsingRemote {
		errs = s.refreshRemote(ctx, sortDescending)
	} else {
		errs = s.refreshLocal(ctx)
	}

	for _, err := range errs {
		s.logger.WarnContext(ctx, "Refresh step failed",
			log.NewFields().WithOperation(log.OpRefresh).WithError(err).ToSlice()...)
	}
	s.notify(ctx, EventRefreshed, "")
	return errs
}

func (s *Store) refreshRemote(ctx context.Context, desc bool) []error {
	base := s.cfg.RemoteBaseURL
	key := strconv.FormatBool(desc)
	var (
		g    errgroup.Group
		slot [3]error
	)

	g.Go(func() error {
		v, err := s.share(ctx, "savings:"+key, func(ctx context.Context) (any, error) {
			return s.remote.FetchAllSavings(ctx, base, desc)
		})
		if err != nil {
			slot[0] = newUserError(OpFetchSavings, true, err)
			return nil
		}
		s.applySavings(v.([]core.SavingRecord))
		return nil
	})
	g.Go(func() error {
		v, err := s.share(ctx, "costs:"+key, func(ctx context.Context) (any, error) {
			return s.remote.FetchAllCosts(ctx, base, desc)
		})
		if err != nil {
			slot[1] = newUserError(OpFetchCosts, true, err)
			return nil
		}
		s.applyCosts(v.([]core.CostRecord))
		return nil
	})
	g.Go(func() error {
		v, err := s.share(ctx, "sum", func(ctx context.Context) (any, error) {
			return s.remote.FetchSum(ctx, base)
		})
		if err != nil {
			slot[2] = newUserError(OpFetchSum, true, err)
			return nil
		}
		s.applySum(v.(decimal.Decimal))
		return nil
	})
	_ = g.Wait()

	return compact(slot[:])
}

func (s *Store) refreshLocal(ctx context.Context) []error {
	var slot [2]error

	v, err := s.share(ctx, "local-savings", func(ctx context.Context) (any, error) {
		return s.local.FetchSavings(ctx)
	})
	if err != nil {
		slot[0] = newUserError(OpFetchSavings, false, err)
	} else {
		s.applySavings(v.([]core.SavingRecord))
	}

	v, err = s.share(ctx, "local-costs", func(ctx context.Context) (any, error) {
		return s.local.FetchCosts(ctx)
	})
	if err != nil {
		slot[1] = newUserError(OpFetchCosts, false, err)
	} else {
		s.applyCosts(v.([]core.CostRecord))
	}

	return compact(slot[:])
}

// share runs fn once per key across concurrent callers. The shared call runs
// detached from any single caller's context, so one caller giving up never
// fails the others; each caller still stops waiting when its own ctx is done.
func (s *Store) share(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	ch := s.fetches.DoChan(key, func() (any, error) {
		fetchCtx := context.WithoutCancel(ctx)
		if s.fetchTimeout > 0 {
			var cancel context.CancelFunc
			fetchCtx, cancel = context.WithTimeout(fetchCtx, s.fetchTimeout)
			defer cancel()
		}
		return fn(fetchCtx)
	})

	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// applySavings replaces the savings list. A record already confirmed in
// memory stays confirmed even if the fetched copy predates the confirmation.
func (s *Store) applySavings(fetched []core.SavingRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	confirmed := make(map[string]bool, len(s.savings))
	for _, rec := range s.savings {
		if rec.Confirmed {
			confirmed[rec.Date.String()] = true
		}
	}
	next := make([]core.SavingRecord, len(fetched))
	for i, rec := range fetched {
		if !rec.Confirmed && confirmed[rec.Date.String()] {
			rec = rec.Confirm()
		}
		next[i] = rec
	}
	sortByDate(next, s.sortDescending)
	s.savings = next
	s.recomputeLocked()
}

func (s *Store) applyCosts(fetched []core.CostRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := slices.Clone(fetched)
	sortByDate(next, s.sortDescending)
	s.costs = next
	s.recomputeLocked()
}

func (s *Store) applySum(sum decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.serverSum = decimal.NullDecimal{Decimal: sum, Valid: true}
	s.recomputeLocked()
}

// recomputeLocked derives totals from the current lists. Callers hold mu.
func (s *Store) recomputeLocked() {
	var serverSum decimal.NullDecimal
	if s.cfg.UsingRemote {
		serverSum = s.serverSum
	}
	s.totals = core.ComputeTotals(s.savings, s.costs, serverSum)
}

func (s *Store) dateLock(date core.Date) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()

	key := date.String()
	if _, exists := s.dateLocks[key]; !exists {
		s.dateLocks[key] = &sync.Mutex{}
	}
	return s.dateLocks[key]
}

// ConfirmSaving marks the saving for date as confirmed in the backing store
// and then in memory. Confirming an already confirmed date is a no-op. On
// failure the model is left untouched and the error is returned wrapped in a
// *UserError.
func (s *Store) ConfirmSaving(ctx context.Context, date core.Date) error {
	if err := date.Validate(); err != nil {
		return fmt.Errorf("confirm saving: %w", err)
	}

	lock := s.dateLock(date)
	lock.Lock()
	defer lock.Unlock()

	rec, found := s.findSaving(date)
	if found && rec.Confirmed {
		return nil
	}

	if s.cfg.UsingRemote {
		if err := s.remote.ConfirmSaving(ctx, s.cfg.RemoteBaseURL, date, true); err != nil {
			return newUserError(OpConfirm, true, err)
		}
	} else {
		if err := s.local.MarkConfirmed(ctx, date); err != nil {
			return newUserError(OpConfirm, false, err)
		}
	}

	applied := s.markConfirmed(date)
	log.NewStructuredLogger(s.logger).LogSavingConfirmed(ctx, s.mode(), date.String())

	switch {
	case s.cfg.UsingRemote:
		s.refreshInBackground(ctx)
	case !applied:
		// persisted but not yet loaded; pull the savings list so memory agrees
		if v, err := s.local.FetchSavings(ctx); err != nil {
			s.logger.WarnContext(ctx, "Reload after confirmation failed", log.FieldDate, date.String(), log.FieldError, err)
		} else {
			s.applySavings(v)
		}
	}

	s.notify(ctx, EventSavingConfirmed, date.String())
	return nil
}

func (s *Store) findSaving(date core.Date) (core.SavingRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, rec := range s.savings {
		if rec.Date.Equal(date.Time) {
			return rec, true
		}
	}
	return core.SavingRecord{}, false
}

func (s *Store) markConfirmed(date core.Date) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, rec := range s.savings {
		if rec.Date.Equal(date.Time) {
			s.savings[i] = rec.Confirm()
			s.recomputeLocked()
			return true
		}
	}
	return false
}

func (s *Store) refreshInBackground(ctx context.Context) {
	s.mu.RLock()
	desc := s.sortDescending
	s.mu.RUnlock()

	bgCtx := context.WithoutCancel(ctx)
	s.goBackground(func() {
		s.Refresh(bgCtx, desc)
	})
}

// RecordWithdrawal persists a new cost and appends it to the model. Only the
// local backend accepts withdrawals.
func (s *Store) RecordWithdrawal(ctx context.Context, amount decimal.Decimal, date core.Date) error {
	if !s.cfg.WithdrawalsEnabled {
		return core.ErrWithdrawalsDisabled
	}
	if s.cfg.UsingRemote {
		return core.ErrRemoteWithdrawalUnsupported
	}

	rec := core.CostRecord{ID: uuid.NewString(), Date: date, Amount: amount}
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("record withdrawal: %w", err)
	}

	saved, err := s.local.InsertCost(ctx, rec)
	if err != nil {
		return newUserError(OpWithdraw, false, err)
	}

	s.mu.Lock()
	next := append(slices.Clone(s.costs), saved)
	sortByDate(next, s.sortDescending)
	s.costs = next
	s.recomputeLocked()
	s.mu.Unlock()

	log.NewStructuredLogger(s.logger).LogWithdrawalRecorded(ctx, saved.ID, saved.Date.String(), saved.Amount.String())
	s.notify(ctx, EventWithdrawalRecorded, date.String())
	return nil
}

// goBackground runs fn tracked by Wait and Close. Once the store is closed it
// drops fn and reports false.
func (s *Store) goBackground(fn func()) bool {
	s.bgMu.Lock()
	defer s.bgMu.Unlock()
	if s.closed {
		return false
	}
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		fn()
	}()
	return true
}

// Wait blocks until background refreshes and publishes have finished. Work
// started by mutations that run concurrently with Wait may not be covered;
// use Close when shutting down.
func (s *Store) Wait() {
	s.bg.Wait()
}

// Close stops the store from starting background work and waits for the work
// already running. Mutations keep working afterwards but no longer refresh in
// the background or publish.
func (s *Store) Close() {
	s.bgMu.Lock()
	s.closed = true
	s.bgMu.Unlock()
	s.bg.Wait()
}

type dated interface {
	RecordDate() core.Date
}

// sortByDate orders records by date, keeping the incoming order for equal dates.
func sortByDate[R dated](records []R, descending bool) {
	sort.SliceStable(records, func(i, j int) bool {
		di, dj := records[i].RecordDate(), records[j].RecordDate()
		if descending {
			return dj.Before(di)
		}
		return di.Before(dj)
	})
}

func compact(errs []error) []error {
	var out []error
	for _, err := range errs {
		if err != nil {
			out = append(out, err)
		}
	}
	return out
}
