package store

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"stocksync/config"
)

func testClient(t *testing.T, serverURL string, batchSize int) *Client {
	t.Helper()

	cfg := &config.Config{
		SupabaseURL:      serverURL,
		SupabaseAnonKey:  "test-key",
		ProviderTimeout:  5 * time.Second,
		UpsertBatchSize:  batchSize,
		RetryAttempts:    3,
		RetryBackoffBase: time.Millisecond,
	}

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	client, err := NewClient(cfg, log)
	require.NoError(t, err)
	return client
}

func decodeBody(r *http.Request, out interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(out)
}

func syntheticRows(n int) []map[string]interface{} {
	rows := make([]map[string]interface{}, n)
	for i := range rows {
		rows[i] = map[string]interface{}{
			"symbol": "VNM",
			"date":   fmt.Sprintf("2026-01-%02d", i%28+1),
			"close":  50000 + i,
		}
	}
	return rows
}

func TestUpsertBatchChunking(t *testing.T) {
	var calls int32
	var rowsSeen int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "symbol,date", r.URL.Query().Get("on_conflict"))
		require.Equal(t, "test-key", r.Header.Get("apikey"))

		var chunk []map[string]interface{}
		require.NoError(t, decodeBody(r, &chunk))
		atomic.AddInt32(&calls, 1)
		atomic.AddInt32(&rowsSeen, int32(len(chunk)))
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	client := testClient(t, server.URL, 1000)
	result, err := client.UpsertBatch(context.Background(), "stock_prices", syntheticRows(2500), []string{"symbol", "date"})

	require.NoError(t, err)
	require.Equal(t, 2500, result.Inserted)
	require.Equal(t, 0, result.Failed)
	require.EqualValues(t, 3, atomic.LoadInt32(&calls))
	require.EqualValues(t, 2500, atomic.LoadInt32(&rowsSeen))
}

func TestUpsertBatchRetriesTransientFailures(t *testing.T) {
	var calls int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	client := testClient(t, server.URL, 1000)
	result, err := client.UpsertBatch(context.Background(), "stock_prices", syntheticRows(10), []string{"symbol", "date"})

	require.NoError(t, err)
	require.Equal(t, 10, result.Inserted)
	require.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestUpsertBatchNeverRetriesClientErrors(t *testing.T) {
	var calls int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusConflict)
	}))
	defer server.Close()

	client := testClient(t, server.URL, 1000)
	result, err := client.UpsertBatch(context.Background(), "stock_prices", syntheticRows(10), []string{"symbol", "date"})

	require.Error(t, err)
	require.Equal(t, 10, result.Failed)
	require.EqualValues(t, 1, atomic.LoadInt32(&calls), "4xx responses must not be retried")
}

func TestUpsertBatchFailedChunkDoesNotAbortRest(t *testing.T) {
	var calls int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// First chunk hard-fails, the rest succeed.
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	client := testClient(t, server.URL, 1000)
	result, err := client.UpsertBatch(context.Background(), "stock_prices", syntheticRows(2500), []string{"symbol", "date"})

	require.Error(t, err)
	require.Equal(t, 1500, result.Inserted)
	require.Equal(t, 1000, result.Failed)
}

func TestDryRunPerformsZeroWrites(t *testing.T) {
	var writes int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			atomic.AddInt32(&writes, 1)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := testClient(t, server.URL, 1000)
	dry := client.WithDryRun()

	result, err := dry.UpsertBatch(context.Background(), "stock_prices", syntheticRows(50), []string{"symbol", "date"})
	require.NoError(t, err)
	require.Equal(t, 50, result.Inserted)

	filters := url.Values{}
	filters.Set("symbol", "eq.VNM")
	require.NoError(t, dry.Delete(context.Background(), "stock_prices", filters))

	require.EqualValues(t, 0, atomic.LoadInt32(&writes))
	require.False(t, client.DryRun())
	require.True(t, dry.DryRun())
}

func TestLatestDate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "eq.VNM", r.URL.Query().Get("symbol"))
		require.Equal(t, "date.desc", r.URL.Query().Get("order"))
		fmt.Fprint(w, `[{"date":"2026-08-28T00:00:00"}]`)
	}))
	defer server.Close()

	client := testClient(t, server.URL, 1000)
	date, err := client.LatestDate(context.Background(), "stock_prices", "VNM")

	require.NoError(t, err)
	require.Equal(t, "2026-08-28", date)
}

func TestLatestDateNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	}))
	defer server.Close()

	client := testClient(t, server.URL, 1000)
	_, err := client.LatestDate(context.Background(), "stock_prices", "ZZZZ")

	require.ErrorIs(t, err, ErrNotFound)
}

func TestParseContentRange(t *testing.T) {
	tests := []struct {
		header string
		want   int64
	}{
		{"0-24/3573", 3573},
		{"*/0", 0},
		{"*/42", 42},
		{"", 0},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, parseContentRange(tt.header), "header %q", tt.header)
	}
}
