package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// reserveScript increments the slot counter by ARGV[1] only when the result
// stays within the capacity in ARGV[2].  Redis runs the script atomically,
// so concurrent callers observe each other's increments.
var reserveScript = redis.NewScript(`
	local committed = tonumber(redis.call('GET', KEYS[1]) or '0')
	local n = tonumber(ARGV[1])
	local capacity = tonumber(ARGV[2])
	if committed + n > capacity then
		return { 0, committed }
	end
	return { 1, redis.call('INCRBY', KEYS[1], n) }
`)

// releaseScript decrements the slot counter unless that would go below zero.
var releaseScript = redis.NewScript(`
	local committed = tonumber(redis.call('GET', KEYS[1]) or '0')
	local n = tonumber(ARGV[1])
	if committed < n then
		return { 0, committed }
	end
	return { 1, redis.call('DECRBY', KEYS[1], n) }
`)

// casScript replaces the counter with ARGV[2] only while it equals ARGV[1].
// A missing key reads as zero.
var casScript = redis.NewScript(`
	local committed = tonumber(redis.call('GET', KEYS[1]) or '0')
	if committed ~= tonumber(ARGV[1]) then
		return { 0, committed }
	end
	redis.call('SET', KEYS[1], ARGV[2])
	return { 1, tonumber(ARGV[2]) }
`)

// Redis keeps committed totals as integer keys named <prefix>:<date>:<slot>.
type Redis struct {
	rdb      *redis.Client
	capacity CapacityFunc
	prefix   string
	timeout  time.Duration
}

// NewRedis returns a Redis-backed ledger.  Each call is bounded by timeout;
// a non-positive value defaults to two seconds.
func NewRedis(rdb *redis.Client, capacity CapacityFunc, prefix string, timeout time.Duration) *Redis {
	if prefix == "" {
		prefix = "ledger"
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Redis{rdb: rdb, capacity: capacity, prefix: prefix, timeout: timeout}
}

func (r *Redis) key(date, slot string) string {
	return r.prefix + ":" + date + ":" + slot
}

func (r *Redis) Committed(ctx context.Context, date, slot string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	n, err := r.rdb.Get(ctx, r.key(date, slot)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, r.wrap("get", err)
	}
	return n, nil
}

func (r *Redis) Remaining(ctx context.Context, date, slot string) (int, error) {
	committed, err := r.Committed(ctx, date, slot)
	if err != nil {
		return 0, err
	}
	return remaining(r.capacity(date), committed), nil
}

func (r *Redis) TryReserve(ctx context.Context, date, slot string, partySize int) (bool, error) {
	if partySize <= 0 {
		return false, ErrInvalidAmount
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	vals, err := reserveScript.Run(ctx, r.rdb, []string{r.key(date, slot)}, partySize, r.capacity(date)).Result()
	if err != nil {
		return false, r.wrap("reserve", err)
	}
	ok, _, err := scriptResult(vals)
	if err != nil {
		return false, err
	}
	return ok, nil
}

func (r *Redis) Release(ctx context.Context, date, slot string, partySize int) error {
	if partySize <= 0 {
		return ErrInvalidAmount
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	vals, err := releaseScript.Run(ctx, r.rdb, []string{r.key(date, slot)}, partySize).Result()
	if err != nil {
		return r.wrap("release", err)
	}
	ok, committed, err := scriptResult(vals)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: release %d from %s with %d committed", ErrInvariantViolation, partySize, Key(date, slot), committed)
	}
	return nil
}

func (r *Redis) Set(ctx context.Context, date, slot string, committed int) error {
	if committed < 0 {
		return ErrInvalidAmount
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.rdb.Set(ctx, r.key(date, slot), committed, 0).Err(); err != nil {
		return r.wrap("set", err)
	}
	return nil
}

func (r *Redis) CompareAndSet(ctx context.Context, date, slot string, expected, committed int) (bool, error) {
	if committed < 0 || expected < 0 {
		return false, ErrInvalidAmount
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	vals, err := casScript.Run(ctx, r.rdb, []string{r.key(date, slot)}, expected, committed).Result()
	if err != nil {
		return false, r.wrap("compare-and-set", err)
	}
	ok, _, err := scriptResult(vals)
	if err != nil {
		return false, err
	}
	return ok, nil
}

func (r *Redis) wrap(op string, err error) error {
	if isTimeout(err) {
		return fmt.Errorf("%w: redis %s: %v", ErrCheckTimeout, op, err)
	}
	return fmt.Errorf("ledger: redis %s: %w", op, err)
}

// scriptResult decodes the {flag, committed} pair returned by the scripts.
func scriptResult(v interface{}) (bool, int64, error) {
	arr, ok := v.([]interface{})
	if !ok || len(arr) != 2 {
		return false, 0, fmt.Errorf("ledger: unexpected script result %#v", v)
	}
	return asInt64(arr[0]) == 1, asInt64(arr[1]), nil
}

func asInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case string:
		if n, err := strconv.ParseInt(t, 10, 64); err == nil {
			return n
		}
	}
	return 0
}
