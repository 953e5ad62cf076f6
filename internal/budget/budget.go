// Package budget implements Budget Enforcement (C9): a single
// operator-configured spend_limits row, a monthly calendar-window spend
// calculation against internal/usage, and the alert-only/hard-block
// decision spec.md §4.8 describes.
package budget

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/taipm/llm-gateway/internal/gatewayerr"
	"github.com/taipm/llm-gateway/internal/usage"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS spend_limits (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	scope TEXT NOT NULL DEFAULT 'global',
	amount_usd REAL,
	alert_only INTEGER NOT NULL DEFAULT 0,
	window TEXT NOT NULL DEFAULT 'monthly',
	updated_at TEXT NOT NULL
);
`

// Limit is the single operator-configured spend_limits row. There is at
// most one row, id fixed at 1 (spec.md §4.8: one global budget). A nil
// AmountUSD means unlimited spend (spec.md §3, §6: "a null amount means
// unlimited").
type Limit struct {
	Scope     string
	AmountUSD *float64
	AlertOnly bool
	Window    string
	UpdatedAt time.Time
}

// Status is the response shape for GET /budget and the pre-flight check
// enforce performs before forwarding a request upstream. Limit and
// Remaining are nil when the configured limit is unlimited.
type Status struct {
	Limit     *float64 `json:"limit"`
	AlertOnly bool     `json:"alert_only"`
	Spent     float64  `json:"spent"`
	Remaining *float64 `json:"remaining"`
	Window    string   `json:"window"`
	Allowed   bool     `json:"allowed"`
}

// Store owns the spend_limits row and consults internal/usage for spend.
type Store struct {
	db    *sql.DB
	usage *usage.Store
}

// Open opens (creating if needed) the sqlite database at path, applies the
// schema, and binds it to the usage store used for spend lookups.
func Open(path string, usageStore *usage.Store) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open budget db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate budget schema: %w", err)
	}
	return &Store{db: db, usage: usageStore}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Get returns the current limit, or ok=false if none has been configured
// yet (no budget means no enforcement — spec.md §4.8 "absent limit never
// blocks").
func (s *Store) Get(ctx context.Context) (Limit, bool, error) {
	var l Limit
	var updatedAt string
	var amountUSD sql.NullFloat64
	row := s.db.QueryRowContext(ctx, `SELECT scope, amount_usd, alert_only, window, updated_at FROM spend_limits WHERE id = 1`)
	var alertOnly int
	if err := row.Scan(&l.Scope, &amountUSD, &alertOnly, &l.Window, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return Limit{}, false, nil
		}
		return Limit{}, false, gatewayerr.Wrap(gatewayerr.InternalError, "load spend limit", err)
	}
	if amountUSD.Valid {
		l.AmountUSD = &amountUSD.Float64
	}
	l.AlertOnly = alertOnly != 0
	l.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return l, true, nil
}

// Set upserts the single spend_limits row (PUT /budget).
func (s *Store) Set(ctx context.Context, l Limit) error {
	if l.Window == "" {
		l.Window = "monthly"
	}
	if l.Scope == "" {
		l.Scope = "global"
	}
	alertOnly := 0
	if l.AlertOnly {
		alertOnly = 1
	}
	var amountUSD sql.NullFloat64
	if l.AmountUSD != nil {
		amountUSD = sql.NullFloat64{Float64: *l.AmountUSD, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO spend_limits (id, scope, amount_usd, alert_only, window, updated_at)
		VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			scope = excluded.scope, amount_usd = excluded.amount_usd,
			alert_only = excluded.alert_only, window = excluded.window, updated_at = excluded.updated_at`,
		l.Scope, amountUSD, alertOnly, l.Window, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return gatewayerr.Wrap(gatewayerr.InternalError, "save spend limit", err)
	}
	return nil
}

// monthStart returns the first instant of t's UTC calendar month, the
// window spec.md §4.8 fixes for "monthly" (the only supported window).
func monthStart(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// Status computes the current budget status, optionally projecting
// estimatedCost as if it were already spent (used for the pre-flight
// check before forwarding a request upstream).
func (s *Store) Status(ctx context.Context, estimatedCost float64) (Status, bool, error) {
	limit, ok, err := s.Get(ctx)
	if err != nil {
		return Status{}, false, err
	}
	if !ok {
		return Status{}, false, nil
	}

	spent, err := s.usage.TotalCostSince(ctx, monthStart(time.Now()))
	if err != nil {
		return Status{}, false, err
	}

	if limit.AmountUSD == nil {
		return Status{
			AlertOnly: limit.AlertOnly,
			Spent:     spent,
			Window:    limit.Window,
			Allowed:   true,
		}, true, nil
	}

	projected := spent + estimatedCost
	remaining := *limit.AmountUSD - spent
	allowed := projected <= *limit.AmountUSD

	return Status{
		Limit:     limit.AmountUSD,
		AlertOnly: limit.AlertOnly,
		Spent:     spent,
		Remaining: &remaining,
		Window:    limit.Window,
		Allowed:   allowed,
	}, true, nil
}

// Enforce checks estimatedCost against the configured budget before a
// request is forwarded upstream. It returns gatewayerr.BudgetExceededKind
// (402) when the projected spend would exceed a hard limit; an
// alert_only limit never blocks, only the caller may choose to log the
// returned Status for a warning (spec.md §4.8: "alert_only limits never
// reject, only flag").
func (s *Store) Enforce(ctx context.Context, estimatedCost float64) (Status, error) {
	status, configured, err := s.Status(ctx, estimatedCost)
	if err != nil {
		return Status{}, err
	}
	if !configured {
		return Status{}, nil
	}
	if !status.Allowed && !status.AlertOnly {
		return status, gatewayerr.New(gatewayerr.BudgetExceededKind,
			fmt.Sprintf("monthly spend limit of $%.2f would be exceeded (spent $%.2f, this request est. $%.2f)",
				*status.Limit, status.Spent, estimatedCost)).
			WithContext(map[string]any{
				"limit":          *status.Limit,
				"spent":          status.Spent,
				"estimated_cost": estimatedCost,
			})
	}
	return status, nil
}
