package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"piggysaving/internal/core"
	"piggysaving/internal/log"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, string) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClientWithHTTP(srv.Client(), log.Discard()), srv.URL
}

func TestFetchAllSavingsOrdering(t *testing.T) {
	var got AllRequest
	client, baseURL := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, PathAll, r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{
			"a": {"date": "2024-02-01", "amount": 1.5, "saved": 0},
			"b": {"date": "2024-01-01", "amount": 2, "saved": 1}
		}`)
	})

	savings, err := client.FetchAllSavings(context.Background(), baseURL, true)
	require.NoError(t, err)

	assert.Equal(t, AllRequest{Desc: true, Withdraw: false}, got)
	require.Len(t, savings, 2)
	assert.Equal(t, "a", savings[0].ID)
	assert.Equal(t, "2024-02-01", savings[0].Date.String())
	assert.False(t, savings[0].Confirmed)
	assert.True(t, savings[0].Amount.Equal(decimal.RequireFromString("1.5")))
	assert.Equal(t, "b", savings[1].ID)
	assert.True(t, savings[1].Confirmed)

	asc, err := client.FetchAllSavings(context.Background(), baseURL, false)
	require.NoError(t, err)
	assert.Equal(t, "b", asc[0].ID)
	assert.Equal(t, "a", asc[1].ID)
}

func TestFetchAllSavingsTiesBrokenByKey(t *testing.T) {
	client, baseURL := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{
			"z": {"date": "2024-01-01", "amount": 1, "saved": true},
			"m": {"date": "2024-01-01", "amount": 1, "saved": false},
			"a": {"date": "2024-01-01", "amount": 1, "saved": 0}
		}`)
	})

	for i := 0; i < 5; i++ {
		savings, err := client.FetchAllSavings(context.Background(), baseURL, true)
		require.NoError(t, err)
		require.Len(t, savings, 3)
		assert.Equal(t, []string{"a", "m", "z"}, []string{savings[0].ID, savings[1].ID, savings[2].ID})
	}
}

func TestFetchAllCosts(t *testing.T) {
	var got AllRequest
	client, baseURL := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"w1": {"date": "2024-03-10", "amount": "12.50"}}`)
	})

	costs, err := client.FetchAllCosts(context.Background(), baseURL, true)
	require.NoError(t, err)

	assert.True(t, got.Withdraw)
	require.Len(t, costs, 1)
	assert.Equal(t, "w1", costs[0].ID)
	assert.True(t, costs[0].Amount.Equal(decimal.RequireFromString("12.5")))
}

func TestFetchAllEmptyMapping(t *testing.T) {
	client, baseURL := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{}`)
	})

	savings, err := client.FetchAllSavings(context.Background(), baseURL, true)
	require.NoError(t, err)
	assert.Empty(t, savings)
}

func TestFetchAllFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{
			name:   "empty body",
			status: http.StatusOK,
			body:   "",
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, core.ErrEmptyResponse)
			},
		},
		{
			name:   "malformed json",
			status: http.StatusOK,
			body:   `{"a": [`,
			check: func(t *testing.T, err error) {
				var de *core.DecodeError
				assert.True(t, errors.As(err, &de), "got %T: %v", err, err)
			},
		},
		{
			name:   "wrong shape",
			status: http.StatusOK,
			body:   `[1, 2, 3]`,
			check: func(t *testing.T, err error) {
				var de *core.DecodeError
				assert.True(t, errors.As(err, &de), "got %T: %v", err, err)
			},
		},
		{
			name:   "bad date",
			status: http.StatusOK,
			body:   `{"a": {"date": "01/02/2024", "amount": 1, "saved": 0}}`,
			check: func(t *testing.T, err error) {
				var de *core.DecodeError
				assert.True(t, errors.As(err, &de), "got %T: %v", err, err)
				assert.ErrorIs(t, err, core.ErrInvalidDate)
			},
		},
		{
			name:   "negative amount",
			status: http.StatusOK,
			body:   `{"a": {"date": "2024-01-02", "amount": -1, "saved": 0}}`,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, core.ErrInvalidAmount)
			},
		},
		{
			name:   "server error",
			status: http.StatusInternalServerError,
			body:   `oops`,
			check: func(t *testing.T, err error) {
				var te *core.TransportError
				assert.True(t, errors.As(err, &te), "got %T: %v", err, err)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, baseURL := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})
			_, err := client.FetchAllSavings(context.Background(), baseURL, true)
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestInvalidEndpointMakesNoRequest(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	})

	for _, base := range []string{"", "not a url", "ftp://example.com", "http://", "/relative/path"} {
		_, err := client.FetchAllSavings(context.Background(), base, true)
		assert.ErrorIs(t, err, core.ErrInvalidEndpoint, "base %q", base)
		_, err = client.FetchSum(context.Background(), base)
		assert.ErrorIs(t, err, core.ErrInvalidEndpoint, "base %q", base)
		err = client.ConfirmSaving(context.Background(), base, core.MustParseDate("2024-06-01"), true)
		assert.ErrorIs(t, err, core.ErrInvalidEndpoint, "base %q", base)
	}
	assert.Zero(t, calls.Load())
}

func TestEndpointJoinsPath(t *testing.T) {
	got, err := Endpoint("http://piggy.local:8080/", PathSum)
	require.NoError(t, err)
	assert.Equal(t, "http://piggy.local:8080/sum", got)

	got, err = Endpoint("https://example.com/api", PathAll)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/api/all", got)
}

func TestFetchSum(t *testing.T) {
	client, baseURL := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, PathSum, r.URL.Path)
		_, _ = io.WriteString(w, `{"sum": 42.75}`)
	})

	sum, err := client.FetchSum(context.Background(), baseURL)
	require.NoError(t, err)
	assert.True(t, sum.Equal(decimal.RequireFromString("42.75")))
}

func TestFetchSumEmpty(t *testing.T) {
	client, baseURL := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	_, err := client.FetchSum(context.Background(), baseURL)
	assert.ErrorIs(t, err, core.ErrEmptyResponse)
}

func TestConfirmSaving(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantErr    error
		wantDecode bool
	}{
		{name: "true", body: "true"},
		{name: "one", body: "1"},
		{name: "empty", body: ""},
		{name: "whitespace", body: "\n"},
		{name: "false", body: "false", wantErr: core.ErrConfirmRejected},
		{name: "plain text", body: "saved", wantDecode: true},
		{name: "error object", body: `{"error":"database locked"}`, wantDecode: true},
		{name: "number out of range", body: "2", wantDecode: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got SaveRequest
			client, baseURL := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, PathSave, r.URL.Path)
				assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
				_, _ = io.WriteString(w, tt.body)
			})

			err := client.ConfirmSaving(context.Background(), baseURL, core.MustParseDate("2024-06-01"), true)
			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			case tt.wantDecode:
				var decodeErr *core.DecodeError
				assert.ErrorAs(t, err, &decodeErr)
			default:
				assert.NoError(t, err)
			}
			assert.Equal(t, SaveRequest{Date: "2024-06-01", Saved: true}, got)
		})
	}
}

func TestConfirmSavingTransportFailure(t *testing.T) {
	client, baseURL := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	err := client.ConfirmSaving(context.Background(), baseURL, core.MustParseDate("2024-06-01"), true)
	var te *core.TransportError
	assert.True(t, errors.As(err, &te), "got %T: %v", err, err)
}

func TestTimeoutIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)

	client := NewClient(50*time.Millisecond, log.Discard())
	_, err := client.FetchSum(context.Background(), srv.URL)
	var te *core.TransportError
	assert.True(t, errors.As(err, &te), "got %T: %v", err, err)
}

func TestFetchLast(t *testing.T) {
	client, baseURL := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, PathLast, r.URL.Path)
		_, _ = io.WriteString(w, `{"2024-06-01": {"amount": 3.2, "saved": 0}, "2024-06-02": {"amount": 4.1, "saved": 1}}`)
	})

	last, err := client.FetchLast(context.Background(), baseURL)
	require.NoError(t, err)
	assert.True(t, last.Amount.Equal(decimal.RequireFromString("4.1")))
	assert.True(t, last.Confirmed)
}

func TestFetchLastEmptyMapping(t *testing.T) {
	client, baseURL := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{}`)
	})

	_, err := client.FetchLast(context.Background(), baseURL)
	assert.ErrorIs(t, err, core.ErrEmptyResponse)
}

func TestFlag(t *testing.T) {
	tests := []struct {
		in      string
		want    bool
		wantErr bool
	}{
		{"true", true, false},
		{"false", false, false},
		{"1", true, false},
		{"0", false, false},
		{"null", false, false},
		{"2", false, true},
		{`"yes"`, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var f Flag
			err := json.Unmarshal([]byte(tt.in), &f)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, bool(f))
		})
	}
}
