package store

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"stocksync/config"
)

// Client wraps the Supabase PostgREST API with retry, batching and
// conflict-key upsert semantics. All writes are idempotent: re-running
// a sync for the same rows merges instead of duplicating.
type Client struct {
	baseURL    string
	anonKey    string
	serviceKey string
	http       *resty.Client
	batchSize  int
	attempts   int
	backoff    time.Duration
	dryRun     bool
	logger     *logrus.Entry
}

// UpsertResult reports how many records landed and how many were lost
// to exhausted retries.
type UpsertResult struct {
	Inserted int `json:"inserted"`
	Failed   int `json:"failed"`
}

// NewClient creates a Supabase REST client from config.
func NewClient(cfg *config.Config, log *logrus.Logger) (*Client, error) {
	if cfg.SupabaseURL == "" {
		return nil, fmt.Errorf("SUPABASE_URL is required")
	}
	if cfg.SupabaseAnonKey == "" && cfg.SupabaseServiceKey == "" {
		return nil, fmt.Errorf("SUPABASE_ANON_KEY or SUPABASE_SERVICE_KEY is required")
	}

	httpClient := resty.New().
		SetTimeout(cfg.ProviderTimeout).
		SetHeader("Content-Type", "application/json")

	return &Client{
		baseURL:    strings.TrimRight(cfg.SupabaseURL, "/"),
		anonKey:    cfg.SupabaseAnonKey,
		serviceKey: cfg.SupabaseServiceKey,
		http:       httpClient,
		batchSize:  cfg.UpsertBatchSize,
		attempts:   cfg.RetryAttempts,
		backoff:    cfg.RetryBackoffBase,
		logger:     log.WithField("component", "store"),
	}, nil
}

// WithDryRun derives a simulation client: every write becomes a no-op
// that reports would-be counts. Reads still hit the remote store. The
// receiver is left untouched, so concurrent runs on the shared client
// cannot observe another run's mode.
func (c *Client) WithDryRun() *Client {
	clone := *c
	clone.dryRun = true
	return &clone
}

// DryRun reports whether the client is in simulation mode.
func (c *Client) DryRun() bool {
	return c.dryRun
}

// apiKey returns the best available API key (service key preferred)
func (c *Client) apiKey() string {
	if c.serviceKey != "" {
		return c.serviceKey
	}
	return c.anonKey
}

func (c *Client) request(ctx context.Context) *resty.Request {
	return c.http.R().
		SetContext(ctx).
		SetHeader("apikey", c.apiKey()).
		SetHeader("Authorization", "Bearer "+c.apiKey())
}

// doWithRetry executes fn with bounded exponential backoff. 4xx-class
// responses fail immediately; transport errors and 5xx are retried.
func (c *Client) doWithRetry(ctx context.Context, fn func() (*resty.Response, error)) (*resty.Response, error) {
	var lastErr error
	backoff := c.backoff
	for attempt := 1; attempt <= c.attempts; attempt++ {
		resp, err := fn()
		if err == nil && resp.StatusCode() < 300 {
			return resp, nil
		}
		if err == nil {
			lastErr = &RemoteError{Status: resp.StatusCode(), Body: string(resp.Body())}
		} else {
			lastErr = err
		}
		if !Retryable(lastErr) {
			return nil, lastErr
		}
		if attempt == c.attempts {
			break
		}
		c.logger.WithFields(logrus.Fields{
			"attempt": attempt,
			"backoff": backoff.String(),
		}).Warnf("Remote call failed, retrying: %v", lastErr)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return nil, lastErr
}

// UpsertBatch writes records to table with upsert-on-conflict semantics,
// chunking oversized record sets at the configured batch size. A failed
// chunk counts toward Failed but does not abort the remaining chunks.
func (c *Client) UpsertBatch(ctx context.Context, table string, records []map[string]interface{}, conflictKeys []string) (UpsertResult, error) {
	result := UpsertResult{}
	if len(records) == 0 {
		return result, nil
	}

	if c.dryRun {
		c.logger.WithFields(logrus.Fields{
			"table":   table,
			"records": len(records),
		}).Info("Dry run: skipping upsert")
		result.Inserted = len(records)
		return result, nil
	}

	endpoint := fmt.Sprintf("%s/rest/v1/%s", c.baseURL, table)
	if len(conflictKeys) > 0 {
		endpoint += "?on_conflict=" + url.QueryEscape(strings.Join(conflictKeys, ","))
	}

	var lastErr error
	for start := 0; start < len(records); start += c.batchSize {
		end := start + c.batchSize
		if end > len(records) {
			end = len(records)
		}
		chunk := records[start:end]

		_, err := c.doWithRetry(ctx, func() (*resty.Response, error) {
			return c.request(ctx).
				SetHeader("Prefer", "resolution=merge-duplicates,return=minimal").
				SetBody(chunk).
				Post(endpoint)
		})
		if err != nil {
			c.logger.WithField("table", table).Errorf("Upsert chunk failed after retries: %v", err)
			result.Failed += len(chunk)
			lastErr = err
			continue
		}
		result.Inserted += len(chunk)
	}

	if result.Failed > 0 {
		return result, fmt.Errorf("upsert to %s lost %d records: %w", table, result.Failed, lastErr)
	}
	return result, nil
}

// Select fetches rows matching the PostgREST filters into out, which
// must be a pointer to a slice.
func (c *Client) Select(ctx context.Context, table string, filters url.Values, out interface{}) error {
	endpoint := fmt.Sprintf("%s/rest/v1/%s", c.baseURL, table)
	if encoded := filters.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}

	resp, err := c.doWithRetry(ctx, func() (*resty.Response, error) {
		return c.request(ctx).Get(endpoint)
	})
	if err != nil {
		return fmt.Errorf("select from %s failed: %w", table, err)
	}

	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("failed to parse %s response: %w", table, err)
	}
	return nil
}

// Delete removes rows matching the filters. At least one filter is
// required; deleting a whole table is never what the sync engine means.
func (c *Client) Delete(ctx context.Context, table string, filters url.Values) error {
	if len(filters) == 0 {
		return fmt.Errorf("refusing to delete from %s without filters", table)
	}

	if c.dryRun {
		c.logger.WithField("table", table).Info("Dry run: skipping delete")
		return nil
	}

	endpoint := fmt.Sprintf("%s/rest/v1/%s?%s", c.baseURL, table, filters.Encode())
	_, err := c.doWithRetry(ctx, func() (*resty.Response, error) {
		return c.request(ctx).Delete(endpoint)
	})
	if err != nil {
		return fmt.Errorf("delete from %s failed: %w", table, err)
	}
	return nil
}

// Count returns the number of rows matching the filters, read from the
// Content-Range header.
func (c *Client) Count(ctx context.Context, table string, filters url.Values) (int64, error) {
	values := url.Values{}
	for k, v := range filters {
		values[k] = v
	}
	values.Set("select", "symbol")
	values.Set("limit", "1")

	endpoint := fmt.Sprintf("%s/rest/v1/%s?%s", c.baseURL, table, values.Encode())
	resp, err := c.doWithRetry(ctx, func() (*resty.Response, error) {
		return c.request(ctx).
			SetHeader("Prefer", "count=exact").
			Get(endpoint)
	})
	if err != nil {
		return 0, fmt.Errorf("count on %s failed: %w", table, err)
	}

	return parseContentRange(resp.Header().Get("Content-Range")), nil
}

// parseContentRange extracts the total from a PostgREST Content-Range
// header, formatted "0-24/3573" or "*/0".
func parseContentRange(contentRange string) int64 {
	if contentRange == "" {
		return 0
	}
	var count int64
	if _, err := fmt.Sscanf(contentRange, "*/%d", &count); err == nil {
		return count
	}
	var start, end int64
	fmt.Sscanf(contentRange, "%d-%d/%d", &start, &end, &count)
	return count
}

// LatestDate returns the most recent date column value present for a
// symbol in a time-series table, or ErrNotFound when the symbol has no
// rows at all.
func (c *Client) LatestDate(ctx context.Context, table, symbol string) (string, error) {
	filters := url.Values{}
	filters.Set("symbol", "eq."+symbol)
	filters.Set("select", "date")
	filters.Set("order", "date.desc")
	filters.Set("limit", "1")

	var rows []struct {
		Date string `json:"date"`
	}
	if err := c.Select(ctx, table, filters, &rows); err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "", ErrNotFound
	}
	// Timestamps come back either as bare dates or RFC3339; keep the day.
	if len(rows[0].Date) > 10 {
		return rows[0].Date[:10], nil
	}
	return rows[0].Date, nil
}

// Rows converts a slice of JSON-tagged structs into the generic row
// form UpsertBatch expects.
func Rows(v interface{}) ([]map[string]interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode rows: %w", err)
	}
	var rows []map[string]interface{}
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode rows: %w", err)
	}
	return rows, nil
}
