package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/pixelmix/internal/config"
	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "pixelmix:ratelimit"

// Decision is the outcome of one limiter check. RetryAfter is zero when the
// request was allowed. ResetAfter is how long until the subject is back to
// a full budget.
type Decision struct {
	Allowed    bool
	Limit      int64
	Remaining  int64
	RetryAfter time.Duration
	ResetAfter time.Duration
}

// RedisLimiter meters requests per subject with the generic cell rate
// algorithm. Each subject is a single Redis string holding its theoretical
// arrival time, so replicas share one budget and idle subjects expire on
// their own.
type RedisLimiter struct {
	client     redis.UniversalClient
	limit      int64
	emissionMS float64
	keyPrefix  string
	now        func() time.Time
	script     *redis.Script
}

// NewRedisLimiter admits cfg.Capacity units of cost per cfg.Window, all of
// which may be spent in one burst.
func NewRedisLimiter(client redis.UniversalClient, cfg config.RateLimitConfig, keyPrefix string) (*RedisLimiter, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if cfg.Capacity <= 0 {
		return nil, errors.New("capacity must be positive")
	}
	if cfg.Window <= 0 {
		return nil, errors.New("window must be positive")
	}
	if strings.TrimSpace(keyPrefix) == "" {
		keyPrefix = defaultKeyPrefix
	}

	windowMS := max(cfg.Window.Milliseconds(), 1)
	return &RedisLimiter{
		client:     client,
		limit:      int64(cfg.Capacity),
		emissionMS: float64(windowMS) / float64(cfg.Capacity),
		keyPrefix:  keyPrefix,
		now:        time.Now,
		script:     redis.NewScript(gcraScript),
	}, nil
}

// gcraScript returns {allowed, remaining, retry_after_ms, reset_after_ms}.
// The stored value is the time at which the subject's budget is full again.
const gcraScript = `
local emission = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])
local tolerance = emission * tonumber(ARGV[1])

local tat = tonumber(redis.call("GET", KEYS[1]))
if tat == nil or tat < now then
  tat = now
end

local next_tat = tat + emission * cost
local slack = now - (next_tat - tolerance)

if slack < 0 then
  local left = math.floor((tolerance - (tat - now)) / emission)
  return {0, math.max(left, 0), math.ceil(-slack), math.ceil(tat - now)}
end

local reset = math.ceil(next_tat - now)
redis.call("SET", KEYS[1], next_tat, "PX", reset)
return {1, math.floor(slack / emission), 0, reset}
`

// AllowN charges cost units to subject. Costs above the limit are charged as
// the full limit so that a single expensive request can still succeed on an
// idle budget.
func (l *RedisLimiter) AllowN(ctx context.Context, subject string, cost int64) (Decision, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		subject = "anonymous"
	}
	cost = min(max(cost, 1), l.limit)

	raw, err := l.script.Run(ctx, l.client, []string{l.Key(subject)},
		l.limit,
		strconv.FormatFloat(l.emissionMS, 'f', -1, 64),
		l.now().UTC().UnixMilli(),
		cost,
	).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("run rate limit script: %w", err)
	}

	decision, err := parseDecision(raw)
	if err != nil {
		return Decision{}, err
	}
	decision.Limit = l.limit
	return decision, nil
}

// Key is the Redis string holding subject's arrival time.
func (l *RedisLimiter) Key(subject string) string {
	return l.keyPrefix + ":" + subject
}

func parseDecision(raw any) (Decision, error) {
	values, ok := raw.([]any)
	if !ok || len(values) != 4 {
		return Decision{}, fmt.Errorf("invalid rate limit response %v", raw)
	}

	var fields [4]int64
	for i, v := range values {
		n, err := toInt64(v)
		if err != nil {
			return Decision{}, fmt.Errorf("parse rate limit field %d: %w", i, err)
		}
		fields[i] = n
	}

	return Decision{
		Allowed:    fields[0] == 1,
		Remaining:  fields[1],
		RetryAfter: time.Duration(fields[2]) * time.Millisecond,
		ResetAfter: time.Duration(fields[3]) * time.Millisecond,
	}, nil
}

func toInt64(in any) (int64, error) {
	switch v := in.(type) {
	case int64:
		return v, nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	default:
		return 0, fmt.Errorf("unsupported type %T", in)
	}
}
