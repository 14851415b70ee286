package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"piggysaving/internal/core"
	"piggysaving/internal/log"
	"piggysaving/internal/middleware/ratelimit"
	"piggysaving/internal/remote"
	"piggysaving/internal/storage"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestServer(t *testing.T, repo Repository) *httptest.Server {
	t.Helper()
	s := NewServer(":0", repo, log.Discard())
	ts := httptest.NewServer(s.Handler)
	t.Cleanup(func() {
		ts.Close()
		_ = s.Shutdown(context.Background())
	})
	return ts
}

func newRepo(t *testing.T) *storage.SQLiteRepository {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "piggy.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestServer_RoundTripThroughClient(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	for _, s := range []struct {
		date   string
		amount string
	}{{"2024-03-01", "5.00"}, {"2024-03-02", "2.50"}, {"2024-02-28", "1.25"}} {
		_, _, err := repo.SeedSaving(ctx, core.MustParseDate(s.date), dec(s.amount))
		require.NoError(t, err)
	}
	_, err := repo.InsertCost(ctx, core.CostRecord{Date: core.MustParseDate("2024-03-03"), Amount: dec("3.00")})
	require.NoError(t, err)

	ts := newTestServer(t, repo)
	client := remote.NewClient(5*time.Second, log.Discard())

	savings, err := client.FetchAllSavings(ctx, ts.URL, true)
	require.NoError(t, err)
	require.Len(t, savings, 3)
	assert.Equal(t, "2024-03-02", savings[0].Date.String())
	assert.Equal(t, "2024-02-28", savings[2].Date.String())
	assert.True(t, savings[1].Amount.Equal(dec("5")))
	assert.False(t, savings[0].Confirmed)

	costs, err := client.FetchAllCosts(ctx, ts.URL, false)
	require.NoError(t, err)
	require.Len(t, costs, 1)
	assert.True(t, costs[0].Amount.Equal(dec("3")))

	sum, err := client.FetchSum(ctx, ts.URL)
	require.NoError(t, err)
	assert.True(t, sum.IsZero())

	require.NoError(t, client.ConfirmSaving(ctx, ts.URL, core.MustParseDate("2024-03-01"), true))
	require.NoError(t, client.ConfirmSaving(ctx, ts.URL, core.MustParseDate("2024-03-01"), true))

	sum, err = client.FetchSum(ctx, ts.URL)
	require.NoError(t, err)
	assert.True(t, sum.Equal(dec("5")), "sum = %s", sum)

	last, err := client.FetchLast(ctx, ts.URL)
	require.NoError(t, err)
	assert.True(t, last.Amount.Equal(dec("2.5")))
	assert.False(t, last.Confirmed)
}

func TestServer_Save(t *testing.T) {
	repo := newRepo(t)
	_, _, err := repo.SeedSaving(context.Background(), core.MustParseDate("2024-03-01"), dec("1"))
	require.NoError(t, err)
	ts := newTestServer(t, repo)

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantBody   string
	}{
		{"confirms", `{"date":"2024-03-01","saved":true}`, http.StatusOK, "true"},
		{"unconfirm is refused", `{"date":"2024-03-01","saved":false}`, http.StatusOK, "false"},
		{"unknown date", `{"date":"2024-03-09","saved":true}`, http.StatusNotFound, "no saving"},
		{"bad date", `{"date":"01/03/2024","saved":true}`, http.StatusBadRequest, "error"},
		{"malformed body", `{"date":`, http.StatusBadRequest, "invalid request body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(ts.URL+remote.PathSave, "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			assert.Contains(t, string(body), tt.wantBody)
		})
	}
}

func TestServer_ConfirmUnknownDateIsTransportError(t *testing.T) {
	ts := newTestServer(t, newRepo(t))
	client := remote.NewClient(5*time.Second, log.Discard())

	err := client.ConfirmSaving(context.Background(), ts.URL, core.MustParseDate("2024-03-09"), true)
	var te *core.TransportError
	assert.ErrorAs(t, err, &te)
}

func TestServer_LastOnEmptyStore(t *testing.T) {
	ts := newTestServer(t, newRepo(t))
	client := remote.NewClient(5*time.Second, log.Discard())

	_, err := client.FetchLast(context.Background(), ts.URL)
	assert.ErrorIs(t, err, core.ErrEmptyResponse)
}

func TestServer_Healthz(t *testing.T) {
	ts := newTestServer(t, newRepo(t))

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.NotEmpty(t, resp.Header.Get("Content-Type"))
}

type failingRepo struct{ err error }

func (f failingRepo) FetchSavings(context.Context) ([]core.SavingRecord, error) { return nil, f.err }
func (f failingRepo) FetchCosts(context.Context) ([]core.CostRecord, error)     { return nil, f.err }
func (f failingRepo) MarkConfirmed(context.Context, core.Date) error            { return f.err }
func (f failingRepo) Sum(context.Context) (decimal.Decimal, error)              { return decimal.Zero, f.err }
func (f failingRepo) Last(context.Context) (core.SavingRecord, error)           { return core.SavingRecord{}, f.err }

func TestServer_StoreFailuresAre500(t *testing.T) {
	ts := newTestServer(t, failingRepo{err: &core.PersistenceError{Err: errors.New("disk I/O error")}})

	tests := []struct {
		name   string
		method string
		path   string
		body   string
	}{
		{"all savings", http.MethodPost, remote.PathAll, `{"desc":true,"withdraw":false}`},
		{"all costs", http.MethodPost, remote.PathAll, `{"desc":true,"withdraw":true}`},
		{"sum", http.MethodGet, remote.PathSum, ""},
		{"save", http.MethodPost, remote.PathSave, `{"date":"2024-03-01","saved":true}`},
		{"last", http.MethodGet, remote.PathLast, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, ts.URL+tt.path, strings.NewReader(tt.body))
			require.NoError(t, err)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		})
	}
}

func TestServer_WrongMethod(t *testing.T) {
	ts := newTestServer(t, newRepo(t))

	resp, err := http.Get(ts.URL + remote.PathAll)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		remoteAddr string
		want       string
	}{
		{"10.0.0.1:40000", "10.0.0.1"},
		{"[2001:db8::1]:443", "2001:db8::1"},
		{"10.0.0.1", "10.0.0.1"},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodPost, remote.PathSave, nil)
		r.RemoteAddr = tt.remoteAddr
		assert.Equal(t, tt.want, clientIP(r), tt.remoteAddr)
	}
}

func TestServer_SaveRateLimitedPerIPAcrossPorts(t *testing.T) {
	s := NewServer(":0", newRepo(t), log.Discard())
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })

	limit := ratelimit.DefaultConfig().RequestsPerMinute
	limited := 0
	for i := 0; i < limit+10; i++ {
		req := httptest.NewRequest(http.MethodPost, remote.PathSave, strings.NewReader(`{"date":"2024-03-01","saved":true}`))
		req.RemoteAddr = fmt.Sprintf("10.0.0.1:%d", 40000+i)
		rec := httptest.NewRecorder()
		s.Handler.ServeHTTP(rec, req)
		if rec.Code == http.StatusTooManyRequests {
			limited++
		}
	}
	assert.Equal(t, 10, limited)

	req := httptest.NewRequest(http.MethodPost, remote.PathSave, strings.NewReader(`{"date":"2024-03-01","saved":true}`))
	req.RemoteAddr = "10.0.0.2:40000"
	rec := httptest.NewRecorder()
	s.Handler.ServeHTTP(rec, req)
	assert.NotEqual(t, http.StatusTooManyRequests, rec.Code, "other clients keep their own budget")
}
