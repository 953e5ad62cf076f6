// Package usage implements Usage Accounting (C8): append-only persistence
// of per-request token/cost records and the aggregation queries the
// gateway's /usage route serves, backed by modernc.org/sqlite (pure-Go,
// cgo-free) through database/sql.
package usage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/taipm/llm-gateway/internal/gatewayerr"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS usage_records (
	request_id TEXT PRIMARY KEY,
	provider TEXT NOT NULL,
	model TEXT NOT NULL,
	timestamp TEXT NOT NULL,
	input_tokens INTEGER NOT NULL DEFAULT 0,
	cache_write_input_tokens INTEGER NOT NULL DEFAULT 0,
	cache_read_input_tokens INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	total_tokens INTEGER NOT NULL DEFAULT 0,
	input_cost REAL NOT NULL DEFAULT 0,
	cache_write_cost REAL NOT NULL DEFAULT 0,
	cache_read_cost REAL NOT NULL DEFAULT 0,
	output_cost REAL NOT NULL DEFAULT 0,
	total_cost REAL NOT NULL DEFAULT 0,
	currency TEXT NOT NULL DEFAULT 'USD',
	payment_method TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_usage_records_timestamp ON usage_records(timestamp);
CREATE INDEX IF NOT EXISTS idx_usage_records_provider ON usage_records(provider);
CREATE INDEX IF NOT EXISTS idx_usage_records_model ON usage_records(model);
`

// Record is one persisted usage_records row (spec.md §3, §6).
type Record struct {
	RequestID             string
	Provider              string
	Model                 string
	Timestamp             time.Time
	InputTokens           int
	CacheWriteInputTokens int
	CacheReadInputTokens  int
	OutputTokens          int
	TotalTokens           int
	InputCost             float64
	CacheWriteCost        float64
	CacheReadCost         float64
	OutputCost            float64
	TotalCost             float64
	Currency              string
	PaymentMethod         string
}

// Store owns the sqlite-backed usage_records table.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the sqlite database at path and applies
// the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open usage db: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; one conn avoids SQLITE_BUSY
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate usage schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Record persists one usage record, generating a request_id if the caller
// didn't supply one. Append-only: no update or delete path exists
// (spec.md §3 "Usage records: append only").
func (s *Store) Record(ctx context.Context, r Record) (string, error) {
	if r.RequestID == "" {
		r.RequestID = uuid.NewString()
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
	if r.Currency == "" {
		r.Currency = "USD"
	}
	r.TotalTokens = r.InputTokens + r.CacheWriteInputTokens + r.CacheReadInputTokens + r.OutputTokens

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_records (
			request_id, provider, model, timestamp,
			input_tokens, cache_write_input_tokens, cache_read_input_tokens, output_tokens, total_tokens,
			input_cost, cache_write_cost, cache_read_cost, output_cost, total_cost,
			currency, payment_method, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RequestID, r.Provider, r.Model, r.Timestamp.Format(time.RFC3339Nano),
		r.InputTokens, r.CacheWriteInputTokens, r.CacheReadInputTokens, r.OutputTokens, r.TotalTokens,
		r.InputCost, r.CacheWriteCost, r.CacheReadCost, r.OutputCost, r.TotalCost,
		r.Currency, r.PaymentMethod, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", gatewayerr.Wrap(gatewayerr.InternalError, "persist usage record", err)
	}
	return r.RequestID, nil
}

// Aggregate is the result of a scoped [start,end) summary query.
type Aggregate struct {
	TotalCost      float64            `json:"total_cost"`
	TotalTokens    int                `json:"total_tokens"`
	TotalRequests  int                `json:"total_requests"`
	CostByProvider map[string]float64 `json:"cost_by_provider"`
	CostByModel    map[string]float64 `json:"cost_by_model"`
	Hourly         []HourlyBucket     `json:"hourly"`
}

// HourlyBucket is one hour's cost/token/request totals, for the last-24h
// breakdown.
type HourlyBucket struct {
	HourStart string  `json:"hour_start"`
	Cost      float64 `json:"cost"`
	Tokens    int     `json:"tokens"`
	Requests  int     `json:"requests"`
}

// Aggregate computes total_cost/total_tokens/total_requests,
// cost_by_provider, cost_by_model over [start,end), plus an hourly
// breakdown for the last 24h ending at end (spec.md §4.8).
func (s *Store) Aggregate(ctx context.Context, start, end time.Time) (Aggregate, error) {
	out := Aggregate{CostByProvider: map[string]float64{}, CostByModel: map[string]float64{}}

	row := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(total_cost),0), COALESCE(SUM(total_tokens),0), COUNT(*)
		FROM usage_records WHERE timestamp >= ? AND timestamp < ?`,
		start.Format(time.RFC3339Nano), end.Format(time.RFC3339Nano))
	if err := row.Scan(&out.TotalCost, &out.TotalTokens, &out.TotalRequests); err != nil {
		return out, gatewayerr.Wrap(gatewayerr.InternalError, "aggregate usage totals", err)
	}

	if err := s.groupSum(ctx, start, end, "provider", out.CostByProvider); err != nil {
		return out, err
	}
	if err := s.groupSum(ctx, start, end, "model", out.CostByModel); err != nil {
		return out, err
	}

	hourlyStart := end.Add(-24 * time.Hour)
	rows, err := s.db.QueryContext(ctx, `
		SELECT substr(timestamp, 1, 13) || ':00:00Z' AS hour_start,
		       COALESCE(SUM(total_cost),0), COALESCE(SUM(total_tokens),0), COUNT(*)
		FROM usage_records
		WHERE timestamp >= ? AND timestamp < ?
		GROUP BY hour_start ORDER BY hour_start`,
		hourlyStart.Format(time.RFC3339Nano), end.Format(time.RFC3339Nano))
	if err != nil {
		return out, gatewayerr.Wrap(gatewayerr.InternalError, "aggregate hourly usage", err)
	}
	defer rows.Close()
	for rows.Next() {
		var b HourlyBucket
		if err := rows.Scan(&b.HourStart, &b.Cost, &b.Tokens, &b.Requests); err != nil {
			return out, gatewayerr.Wrap(gatewayerr.InternalError, "scan hourly usage row", err)
		}
		out.Hourly = append(out.Hourly, b)
	}
	return out, nil
}

func (s *Store) groupSum(ctx context.Context, start, end time.Time, column string, into map[string]float64) error {
	query := fmt.Sprintf(`
		SELECT %s, COALESCE(SUM(total_cost),0) FROM usage_records
		WHERE timestamp >= ? AND timestamp < ? GROUP BY %s`, column, column)
	rows, err := s.db.QueryContext(ctx, query, start.Format(time.RFC3339Nano), end.Format(time.RFC3339Nano))
	if err != nil {
		return gatewayerr.Wrap(gatewayerr.InternalError, "aggregate usage by "+column, err)
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var cost float64
		if err := rows.Scan(&key, &cost); err != nil {
			return gatewayerr.Wrap(gatewayerr.InternalError, "scan usage group row", err)
		}
		into[key] = cost
	}
	return nil
}

// List returns a page of records ordered newest-first, scoped to
// [start,end), with pagination capped at 500 (spec.md §4.8).
func (s *Store) List(ctx context.Context, start, end time.Time, limit, offset int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT request_id, provider, model, timestamp,
		       input_tokens, cache_write_input_tokens, cache_read_input_tokens, output_tokens, total_tokens,
		       input_cost, cache_write_cost, cache_read_cost, output_cost, total_cost,
		       currency, payment_method
		FROM usage_records
		WHERE timestamp >= ? AND timestamp < ?
		ORDER BY timestamp DESC LIMIT ? OFFSET ?`,
		start.Format(time.RFC3339Nano), end.Format(time.RFC3339Nano), limit, offset)
	if err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.InternalError, "list usage records", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var ts string
		if err := rows.Scan(&r.RequestID, &r.Provider, &r.Model, &ts,
			&r.InputTokens, &r.CacheWriteInputTokens, &r.CacheReadInputTokens, &r.OutputTokens, &r.TotalTokens,
			&r.InputCost, &r.CacheWriteCost, &r.CacheReadCost, &r.OutputCost, &r.TotalCost,
			&r.Currency, &r.PaymentMethod); err != nil {
			return nil, gatewayerr.Wrap(gatewayerr.InternalError, "scan usage record", err)
		}
		r.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, r)
	}
	return out, nil
}

// TotalCostSince sums total_cost for timestamp >= start, used by the
// budget enforcer's "spent this month" calculation (spec.md §4.8).
func (s *Store) TotalCostSince(ctx context.Context, start time.Time) (float64, error) {
	var total float64
	row := s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(total_cost),0) FROM usage_records WHERE timestamp >= ?`,
		start.Format(time.RFC3339Nano))
	if err := row.Scan(&total); err != nil {
		return 0, gatewayerr.Wrap(gatewayerr.InternalError, "sum usage cost since", err)
	}
	return total, nil
}
