package datastore

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"piggysaving/internal/core"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func saving(date, amount string, confirmed bool) core.SavingRecord {
	return core.SavingRecord{ID: "s-" + date, Date: core.MustParseDate(date), Amount: dec(amount), Confirmed: confirmed}
}

// fakeLocal is an in-memory LocalStore.
type fakeLocal struct {
	mu          sync.Mutex
	savings     map[string]core.SavingRecord
	costs       []core.CostRecord
	fetchErr    error
	costsErr    error
	markErr     error
	insertErr   error
	markCalls   int
	insertCalls int
}

func newFakeLocal(savings ...core.SavingRecord) *fakeLocal {
	f := &fakeLocal{savings: make(map[string]core.SavingRecord)}
	for _, s := range savings {
		f.savings[s.Date.String()] = s
	}
	return f
}

func (f *fakeLocal) FetchSavings(ctx context.Context) ([]core.SavingRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	out := make([]core.SavingRecord, 0, len(f.savings))
	for _, s := range f.savings {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (f *fakeLocal) FetchCosts(ctx context.Context) ([]core.CostRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.costsErr != nil {
		return nil, f.costsErr
	}
	return append([]core.CostRecord(nil), f.costs...), nil
}

func (f *fakeLocal) MarkConfirmed(ctx context.Context, date core.Date) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markCalls++
	if f.markErr != nil {
		return f.markErr
	}
	s, ok := f.savings[date.String()]
	if !ok {
		return core.ErrRecordNotFound
	}
	f.savings[date.String()] = s.Confirm()
	return nil
}

func (f *fakeLocal) InsertCost(ctx context.Context, c core.CostRecord) (core.CostRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.insertCalls++
	if f.insertErr != nil {
		return core.CostRecord{}, f.insertErr
	}
	f.costs = append(f.costs, c)
	return c, nil
}

func (f *fakeLocal) persisted(date string) core.SavingRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.savings[date]
}

// fakeRemote serves canned responses. When stale is set, confirmations are
// accepted but never reflected in later fetches.
type fakeRemote struct {
	mu           sync.Mutex
	savings      []core.SavingRecord
	costs        []core.CostRecord
	sum          decimal.Decimal
	savingsErr   error
	costsErr     error
	sumErr       error
	confirmErr   error
	stale        bool
	fetchCalls   int
	confirmCalls []string
}

func (f *fakeRemote) FetchAllSavings(ctx context.Context, baseURL string, desc bool) ([]core.SavingRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCalls++
	if f.savingsErr != nil {
		return nil, f.savingsErr
	}
	return append([]core.SavingRecord(nil), f.savings...), nil
}

func (f *fakeRemote) FetchAllCosts(ctx context.Context, baseURL string, desc bool) ([]core.CostRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.costsErr != nil {
		return nil, f.costsErr
	}
	return append([]core.CostRecord(nil), f.costs...), nil
}

func (f *fakeRemote) FetchSum(ctx context.Context, baseURL string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sumErr != nil {
		return decimal.Zero, f.sumErr
	}
	return f.sum, nil
}

func (f *fakeRemote) ConfirmSaving(ctx context.Context, baseURL string, date core.Date, confirmed bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirmCalls = append(f.confirmCalls, date.String())
	if f.confirmErr != nil {
		return f.confirmErr
	}
	if f.stale {
		return nil
	}
	for i, s := range f.savings {
		if s.Date.Equal(date.Time) && !s.Confirmed {
			f.savings[i] = s.Confirm()
			f.sum = f.sum.Add(s.Amount)
		}
	}
	return nil
}

func (f *fakeRemote) set(fn func(f *fakeRemote)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeRemote) fetches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchCalls
}

// slowRemote delays every fetch by delay unless ctx ends first.
type slowRemote struct {
	*fakeRemote
	delay time.Duration
}

func (r *slowRemote) wait(ctx context.Context) error {
	select {
	case <-time.After(r.delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *slowRemote) FetchAllSavings(ctx context.Context, baseURL string, desc bool) ([]core.SavingRecord, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	return r.fakeRemote.FetchAllSavings(ctx, baseURL, desc)
}

func (r *slowRemote) FetchAllCosts(ctx context.Context, baseURL string, desc bool) ([]core.CostRecord, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	return r.fakeRemote.FetchAllCosts(ctx, baseURL, desc)
}

func (r *slowRemote) FetchSum(ctx context.Context, baseURL string) (decimal.Decimal, error) {
	if err := r.wait(ctx); err != nil {
		return decimal.Zero, err
	}
	return r.fakeRemote.FetchSum(ctx, baseURL)
}

// recordingPublisher captures published events.
type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (p *recordingPublisher) PublishModelChanged(ctx context.Context, ev Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *recordingPublisher) kinds() []EventKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []EventKind
	for _, ev := range p.events {
		out = append(out, ev.Kind)
	}
	return out
}

var errNetwork = &core.TransportError{Err: errors.New("network is unreachable")}
