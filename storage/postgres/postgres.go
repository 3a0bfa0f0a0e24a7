// Package postgres provides a PostgreSQL implementation of the subsync.Store
// interface. Event application and quota consumption run inside SQL
// transactions with SELECT FOR UPDATE, which serializes deliveries per
// subscriber row and makes the counter's reset-then-increment atomic.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Ahmad-beast/invoicepak-pro-sub000/pkg/subsync"
)

// Schema contains the DDL for the tables this store uses.
const Schema = `
CREATE TABLE IF NOT EXISTS subscribers (
	user_id            TEXT PRIMARY KEY,
	email              TEXT NOT NULL DEFAULT '',
	plan_tier          TEXT NOT NULL DEFAULT 'free',
	status             TEXT NOT NULL DEFAULT 'none',
	customer_ref       TEXT NOT NULL DEFAULT '',
	subscription_ref   TEXT NOT NULL DEFAULT '',
	current_period_end TIMESTAMPTZ,
	invoice_count      INTEGER NOT NULL DEFAULT 0,
	period_reset_at    TIMESTAMPTZ NOT NULL,
	updated_at         TIMESTAMPTZ NOT NULL,
	last_event_id      TEXT NOT NULL DEFAULT '',
	portal_url         TEXT NOT NULL DEFAULT '',
	update_payment_url TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS subscription_history (
	id               BIGSERIAL PRIMARY KEY,
	subscription_ref TEXT NOT NULL,
	user_id          TEXT NOT NULL,
	raw_status       TEXT NOT NULL,
	status           TEXT NOT NULL,
	observed_at      TIMESTAMPTZ NOT NULL,
	event_id         TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_history_ref_observed
	ON subscription_history (subscription_ref, observed_at DESC);
`

// Store implements subsync.Store using PostgreSQL
type Store struct {
	pool   *pgxpool.Pool
	config Config
}

// Config holds PostgreSQL store configuration
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// Pool configuration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// New creates a new PostgreSQL store
func New(ctx context.Context, config Config) (*Store, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{pool: pool, config: config}, nil
}

// EnsureSchema creates the tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the PostgreSQL connection pool
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// GetSubscriber implements subsync.Store
func (s *Store) GetSubscriber(ctx context.Context, userID string) (*subsync.Subscriber, error) {
	sub, err := scanSubscriber(s.pool.QueryRow(ctx,
		`SELECT user_id, email, plan_tier, status, customer_ref, subscription_ref,
			current_period_end, invoice_count, period_reset_at, updated_at,
			last_event_id, portal_url, update_payment_url
			FROM subscribers WHERE user_id = $1`,
		userID))
	if err == pgx.ErrNoRows {
		return nil, subsync.ErrSubscriberNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscriber: %w", err)
	}
	return sub, nil
}

// ApplyEvent implements subsync.Store
func (s *Store) ApplyEvent(ctx context.Context, req *subsync.ApplyRequest) (*subsync.ApplyResult, error) {
	if req == nil || req.UserID == "" {
		return nil, subsync.ErrMissingUserID
	}
	if req.SubscriptionRef == "" {
		return nil, subsync.ErrMissingSubscriptionRef
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Ensure the row exists, then lock it. The row lock serializes all
	// deliveries for this user (and therefore for the subscription ref).
	_, err = tx.Exec(ctx,
		`INSERT INTO subscribers (user_id, plan_tier, status, period_reset_at, updated_at)
			VALUES ($1, 'free', 'none', $2, $3)
			ON CONFLICT (user_id) DO NOTHING`,
		req.UserID, subsync.NextMonthStart(req.ObservedAt), req.ObservedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure subscriber: %w", err)
	}

	if _, err = tx.Exec(ctx,
		`SELECT 1 FROM subscribers WHERE user_id = $1 FOR UPDATE`, req.UserID); err != nil {
		return nil, fmt.Errorf("failed to lock subscriber: %w", err)
	}

	var newest *time.Time
	err = tx.QueryRow(ctx,
		`SELECT MAX(observed_at) FROM subscription_history WHERE subscription_ref = $1`,
		req.SubscriptionRef).Scan(&newest)
	if err != nil {
		return nil, fmt.Errorf("failed to read history watermark: %w", err)
	}

	// Append-only audit record, stale or not.
	_, err = tx.Exec(ctx,
		`INSERT INTO subscription_history
			(subscription_ref, user_id, raw_status, status, observed_at, event_id)
			VALUES ($1, $2, $3, $4, $5, $6)`,
		req.SubscriptionRef, req.UserID, req.RawStatus, string(req.Status),
		req.ObservedAt, req.EventID)
	if err != nil {
		return nil, fmt.Errorf("failed to append history: %w", err)
	}

	stale := newest != nil && req.ObservedAt.Before(*newest)
	if !stale {
		_, err = tx.Exec(ctx,
			`UPDATE subscribers SET
				email = $2, plan_tier = $3, status = $4, customer_ref = $5,
				subscription_ref = $6, current_period_end = $7, updated_at = $8,
				last_event_id = $9,
				portal_url = CASE WHEN $10 = '' THEN portal_url ELSE $10 END,
				update_payment_url = CASE WHEN $11 = '' THEN update_payment_url ELSE $11 END
			WHERE user_id = $1`,
			req.UserID, req.Email, string(req.PlanTier), string(req.Status),
			req.CustomerRef, req.SubscriptionRef, req.CurrentPeriodEnd,
			req.ObservedAt, req.EventID, req.PortalURL, req.UpdatePaymentURL)
		if err != nil {
			return nil, fmt.Errorf("failed to update subscriber: %w", err)
		}
	}

	sub, err := scanSubscriber(tx.QueryRow(ctx,
		`SELECT user_id, email, plan_tier, status, customer_ref, subscription_ref,
			current_period_end, invoice_count, period_reset_at, updated_at,
			last_event_id, portal_url, update_payment_url
			FROM subscribers WHERE user_id = $1`,
		req.UserID))
	if err != nil {
		return nil, fmt.Errorf("failed to read subscriber back: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}

	return &subsync.ApplyResult{Subscriber: sub, Stale: stale}, nil
}

// SubscriptionHistory implements subsync.Store
func (s *Store) SubscriptionHistory(ctx context.Context, subscriptionRef string, limit int) ([]*subsync.HistoryRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx,
		`SELECT subscription_ref, user_id, raw_status, status, observed_at, event_id
			FROM subscription_history
			WHERE subscription_ref = $1
			ORDER BY observed_at DESC, id DESC
			LIMIT $2`,
		subscriptionRef, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var records []*subsync.HistoryRecord
	for rows.Next() {
		var rec subsync.HistoryRecord
		var status string
		if err := rows.Scan(&rec.SubscriptionRef, &rec.UserID, &rec.RawStatus,
			&status, &rec.ObservedAt, &rec.EventID); err != nil {
			return nil, fmt.Errorf("failed to scan history record: %w", err)
		}
		rec.Status = subsync.CanonicalStatus(status)
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// ConsumeInvoiceCredit implements subsync.Store
func (s *Store) ConsumeInvoiceCredit(ctx context.Context, req *subsync.ConsumeRequest) (*subsync.QuotaDecision, error) {
	if req == nil || req.UserID == "" {
		return nil, subsync.ErrMissingUserID
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	count, resetAt, err := s.lockCounter(ctx, tx, req.UserID, req.Now)
	if err != nil {
		return nil, err
	}

	dec := &subsync.QuotaDecision{ResetAt: resetAt}
	switch {
	case req.Limit == subsync.Unlimited:
		count++
		dec.Allowed = true
		dec.Remaining = subsync.Unlimited
	case count < req.Limit:
		count++
		dec.Allowed = true
		dec.Remaining = req.Limit - count
	default:
		dec.Allowed = false
		dec.Remaining = 0
	}
	dec.Used = count

	_, err = tx.Exec(ctx,
		`UPDATE subscribers SET invoice_count = $2, period_reset_at = $3, updated_at = $4
			WHERE user_id = $1`,
		req.UserID, count, resetAt, req.Now)
	if err != nil {
		return nil, fmt.Errorf("failed to update counter: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return dec, nil
}

// PeekInvoiceUsage implements subsync.Store
func (s *Store) PeekInvoiceUsage(ctx context.Context, userID string, now time.Time) (*subsync.QuotaDecision, error) {
	if userID == "" {
		return nil, subsync.ErrMissingUserID
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	count, resetAt, err := s.lockCounter(ctx, tx, userID, now)
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx,
		`UPDATE subscribers SET invoice_count = $2, period_reset_at = $3
			WHERE user_id = $1`,
		userID, count, resetAt)
	if err != nil {
		return nil, fmt.Errorf("failed to persist reset: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}

	return &subsync.QuotaDecision{Used: count, ResetAt: resetAt}, nil
}

// lockCounter ensures the subscriber row exists, locks it, and applies the
// lazy calendar-month reset. Callers own the transaction.
func (s *Store) lockCounter(ctx context.Context, tx pgx.Tx, userID string, now time.Time) (int, time.Time, error) {
	_, err := tx.Exec(ctx,
		`INSERT INTO subscribers (user_id, plan_tier, status, period_reset_at, updated_at)
			VALUES ($1, 'free', 'none', $2, $3)
			ON CONFLICT (user_id) DO NOTHING`,
		userID, subsync.NextMonthStart(now), now)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to ensure subscriber: %w", err)
	}

	var count int
	var resetAt time.Time
	err = tx.QueryRow(ctx,
		`SELECT invoice_count, period_reset_at FROM subscribers
			WHERE user_id = $1 FOR UPDATE`,
		userID).Scan(&count, &resetAt)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to lock counter: %w", err)
	}

	if !now.Before(resetAt) {
		count = 0
		resetAt = subsync.NextMonthStart(now)
	}
	return count, resetAt, nil
}

func scanSubscriber(row pgx.Row) (*subsync.Subscriber, error) {
	var sub subsync.Subscriber
	var planTier, status string
	var periodEnd *time.Time

	err := row.Scan(
		&sub.UserID, &sub.Email, &planTier, &status, &sub.CustomerRef,
		&sub.SubscriptionRef, &periodEnd, &sub.InvoiceCount, &sub.PeriodResetAt,
		&sub.UpdatedAt, &sub.LastEventID, &sub.PortalURL, &sub.UpdatePaymentURL,
	)
	if err != nil {
		return nil, err
	}

	sub.PlanTier = subsync.PlanTier(planTier)
	sub.Status = subsync.CanonicalStatus(status)
	sub.CurrentPeriodEnd = periodEnd
	return &sub, nil
}
