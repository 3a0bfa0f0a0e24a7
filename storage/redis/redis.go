// Package redis provides a Redis implementation of the subsync.Store
// interface. Event application and quota consumption use Lua scripts so the
// observed-time comparison and the reset-then-increment sequence run
// atomically on the server.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Ahmad-beast/invoicepak-pro-sub000/pkg/subsync"
)

// Store implements subsync.Store using Redis
type Store struct {
	client  redis.UniversalClient
	config  Config
	scripts map[string]*redis.Script
}

// Config holds Redis store configuration
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "subsync:")
	KeyPrefix string

	// HistoryMaxLen caps the per-subscription history list
	// (0 = unbounded)
	HistoryMaxLen int64
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		KeyPrefix:     "subsync:",
		HistoryMaxLen: 0,
	}
}

// New creates a new Redis store adapter
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring
func New(client redis.UniversalClient, config Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	if config.KeyPrefix == "" {
		config.KeyPrefix = "subsync:"
	}

	s := &Store{
		client:  client,
		config:  config,
		scripts: make(map[string]*redis.Script),
	}
	s.loadScripts()

	return s, nil
}

// loadScripts loads and compiles Lua scripts for atomic operations
func (s *Store) loadScripts() {
	// Apply a billing event: append history unconditionally, then compare the
	// observed-time watermark and either advance canonical state or report
	// the event as stale.
	s.scripts["apply"] = redis.NewScript(`
		local subKey = KEYS[1]
		local histKey = KEYS[2]
		local wmKey = KEYS[3]
		local observed = tonumber(ARGV[1])
		local histMax = tonumber(ARGV[14])

		redis.call('RPUSH', histKey, ARGV[2])
		if histMax > 0 then
			redis.call('LTRIM', histKey, -histMax, -1)
		end

		local wm = redis.call('GET', wmKey)
		if wm and observed < tonumber(wm) then
			return 'stale'
		end
		redis.call('SET', wmKey, observed)

		redis.call('HSETNX', subKey, 'user_id', ARGV[3])
		redis.call('HSETNX', subKey, 'invoice_count', 0)
		redis.call('HSETNX', subKey, 'period_reset_at', ARGV[12])

		redis.call('HSET', subKey,
			'email', ARGV[4],
			'plan_tier', ARGV[5],
			'status', ARGV[6],
			'customer_ref', ARGV[7],
			'subscription_ref', ARGV[8],
			'current_period_end', ARGV[9],
			'updated_at', ARGV[10],
			'last_event_id', ARGV[11])

		if ARGV[13] ~= '' then
			redis.call('HSET', subKey, 'portal_url', ARGV[13])
		end
		if ARGV[15] ~= '' then
			redis.call('HSET', subKey, 'update_payment_url', ARGV[15])
		end

		return 'applied'
	`)

	// Consume one invoice credit: seed an implicit free record, apply the
	// lazy calendar-month reset, then increment if under the limit.
	// A limit of -1 means unlimited.
	s.scripts["consume"] = redis.NewScript(`
		local subKey = KEYS[1]
		local now = tonumber(ARGV[1])
		local limit = tonumber(ARGV[2])
		local nextReset = tonumber(ARGV[3])
		local increment = tonumber(ARGV[5])

		redis.call('HSETNX', subKey, 'user_id', ARGV[4])
		redis.call('HSETNX', subKey, 'plan_tier', 'free')
		redis.call('HSETNX', subKey, 'status', 'none')
		redis.call('HSETNX', subKey, 'invoice_count', 0)
		redis.call('HSETNX', subKey, 'period_reset_at', nextReset)

		local resetAt = tonumber(redis.call('HGET', subKey, 'period_reset_at'))
		if now >= resetAt then
			redis.call('HSET', subKey, 'invoice_count', 0)
			resetAt = nextReset
			redis.call('HSET', subKey, 'period_reset_at', resetAt)
		end

		local count = tonumber(redis.call('HGET', subKey, 'invoice_count'))
		local allowed = 0
		if increment == 1 then
			if limit == -1 or count < limit then
				count = count + 1
				allowed = 1
				redis.call('HSET', subKey, 'invoice_count', count)
			end
		end

		return {allowed, count, resetAt}
	`)
}

// GetSubscriber implements subsync.Store
func (s *Store) GetSubscriber(ctx context.Context, userID string) (*subsync.Subscriber, error) {
	fields, err := s.client.HGetAll(ctx, s.subscriberKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get subscriber: %w", err)
	}
	if len(fields) == 0 {
		return nil, subsync.ErrSubscriberNotFound
	}
	return subscriberFromFields(userID, fields)
}

// ApplyEvent implements subsync.Store
func (s *Store) ApplyEvent(ctx context.Context, req *subsync.ApplyRequest) (*subsync.ApplyResult, error) {
	if req == nil || req.UserID == "" {
		return nil, subsync.ErrMissingUserID
	}
	if req.SubscriptionRef == "" {
		return nil, subsync.ErrMissingSubscriptionRef
	}

	record, err := json.Marshal(&subsync.HistoryRecord{
		SubscriptionRef: req.SubscriptionRef,
		UserID:          req.UserID,
		RawStatus:       req.RawStatus,
		Status:          req.Status,
		ObservedAt:      req.ObservedAt,
		EventID:         req.EventID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal history record: %w", err)
	}

	periodEnd := ""
	if req.CurrentPeriodEnd != nil {
		periodEnd = req.CurrentPeriodEnd.UTC().Format(time.RFC3339Nano)
	}

	result, err := s.scripts["apply"].Run(
		ctx,
		s.client,
		[]string{
			s.subscriberKey(req.UserID),
			s.historyKey(req.SubscriptionRef),
			s.watermarkKey(req.SubscriptionRef),
		},
		req.ObservedAt.UnixNano(),
		string(record),
		req.UserID,
		req.Email,
		string(req.PlanTier),
		string(req.Status),
		req.CustomerRef,
		req.SubscriptionRef,
		periodEnd,
		req.ObservedAt.UTC().Format(time.RFC3339Nano),
		req.EventID,
		subsync.NextMonthStart(req.ObservedAt).Unix(),
		req.PortalURL,
		s.config.HistoryMaxLen,
		req.UpdatePaymentURL,
	).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to execute apply script: %w", err)
	}

	status, ok := result.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected apply script result: %T", result)
	}

	sub, err := s.GetSubscriber(ctx, req.UserID)
	if err != nil && err != subsync.ErrSubscriberNotFound {
		return nil, err
	}

	return &subsync.ApplyResult{Subscriber: sub, Stale: status == "stale"}, nil
}

// SubscriptionHistory implements subsync.Store
func (s *Store) SubscriptionHistory(ctx context.Context, subscriptionRef string, limit int) ([]*subsync.HistoryRecord, error) {
	key := s.historyKey(subscriptionRef)

	// Records are appended oldest first; take the tail and reverse.
	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}
	raw, err := s.client.LRange(ctx, key, start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}

	records := make([]*subsync.HistoryRecord, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var rec subsync.HistoryRecord
		if err := json.Unmarshal([]byte(raw[i]), &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal history record: %w", err)
		}
		records = append(records, &rec)
	}
	return records, nil
}

// ConsumeInvoiceCredit implements subsync.Store
func (s *Store) ConsumeInvoiceCredit(ctx context.Context, req *subsync.ConsumeRequest) (*subsync.QuotaDecision, error) {
	if req == nil || req.UserID == "" {
		return nil, subsync.ErrMissingUserID
	}
	return s.runCounter(ctx, req.UserID, req.Limit, req.Now, true)
}

// PeekInvoiceUsage implements subsync.Store
func (s *Store) PeekInvoiceUsage(ctx context.Context, userID string, now time.Time) (*subsync.QuotaDecision, error) {
	if userID == "" {
		return nil, subsync.ErrMissingUserID
	}
	return s.runCounter(ctx, userID, 0, now, false)
}

func (s *Store) runCounter(ctx context.Context, userID string, limit int, now time.Time, increment bool) (*subsync.QuotaDecision, error) {
	inc := 0
	if increment {
		inc = 1
	}

	result, err := s.scripts["consume"].Run(
		ctx,
		s.client,
		[]string{s.subscriberKey(userID)},
		now.Unix(),
		limit,
		subsync.NextMonthStart(now).Unix(),
		userID,
		inc,
	).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to execute consume script: %w", err)
	}

	resultSlice, ok := result.([]interface{})
	if !ok || len(resultSlice) != 3 {
		return nil, fmt.Errorf("unexpected consume script result: %T", result)
	}

	allowed, ok := resultSlice[0].(int64)
	if !ok {
		return nil, fmt.Errorf("invalid allowed value")
	}
	count, ok := resultSlice[1].(int64)
	if !ok {
		return nil, fmt.Errorf("invalid count value")
	}
	resetUnix, ok := resultSlice[2].(int64)
	if !ok {
		return nil, fmt.Errorf("invalid reset time value")
	}

	dec := &subsync.QuotaDecision{
		Allowed: allowed == 1,
		Used:    int(count),
		ResetAt: time.Unix(resetUnix, 0).UTC(),
	}
	switch {
	case !increment:
		// Peek: remaining is the caller's concern, it knows the limit.
	case limit == subsync.Unlimited:
		dec.Remaining = subsync.Unlimited
	case dec.Allowed:
		dec.Remaining = limit - dec.Used
	default:
		dec.Remaining = 0
	}
	return dec, nil
}

// Close closes the Redis client connection
func (s *Store) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) subscriberKey(userID string) string {
	return fmt.Sprintf("%ssubscriber:%s", s.config.KeyPrefix, userID)
}

func (s *Store) historyKey(subscriptionRef string) string {
	return fmt.Sprintf("%shistory:%s", s.config.KeyPrefix, subscriptionRef)
}

func (s *Store) watermarkKey(subscriptionRef string) string {
	return fmt.Sprintf("%swatermark:%s", s.config.KeyPrefix, subscriptionRef)
}

func subscriberFromFields(userID string, fields map[string]string) (*subsync.Subscriber, error) {
	sub := &subsync.Subscriber{
		UserID:           userID,
		Email:            fields["email"],
		PlanTier:         subsync.PlanTier(fields["plan_tier"]),
		Status:           subsync.CanonicalStatus(fields["status"]),
		CustomerRef:      fields["customer_ref"],
		SubscriptionRef:  fields["subscription_ref"],
		LastEventID:      fields["last_event_id"],
		PortalURL:        fields["portal_url"],
		UpdatePaymentURL: fields["update_payment_url"],
	}
	if sub.PlanTier == "" {
		sub.PlanTier = subsync.PlanFree
	}
	if sub.Status == "" {
		sub.Status = subsync.StatusNone
	}

	if v := fields["current_period_end"]; v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, fmt.Errorf("failed to parse current_period_end: %w", err)
		}
		sub.CurrentPeriodEnd = &t
	}
	if v := fields["updated_at"]; v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, fmt.Errorf("failed to parse updated_at: %w", err)
		}
		sub.UpdatedAt = t
	}
	if v := fields["invoice_count"]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("failed to parse invoice_count: %w", err)
		}
		sub.InvoiceCount = n
	}
	if v := fields["period_reset_at"]; v != "" {
		unix, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse period_reset_at: %w", err)
		}
		sub.PeriodResetAt = time.Unix(unix, 0).UTC()
	}

	return sub, nil
}
