// Package balancecache implements the authoritative pending balance over
// Redis, per spec.md §4.2. Deduct/Add are atomic Lua scripts so concurrent
// callers never observe or produce a negative balance; Get/Set/HasSufficient
// are plain commands for the cold-read and advisory-check paths.
//
// Grounded on the teacher's lockBalanceScript/releaseBalanceScript idiom
// (internal/services/redis.go), generalized from float64 wallet JSON blobs
// to a plain int64-minor-units string value, and from "error reply on
// failure" to the NotFound/Insufficient sentinel contract spec.md §4.2
// requires so Go callers can branch on the outcome.
package balancecache

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// Sentinel errors returned by Deduct/Add, per spec.md §4.2.
var (
	ErrNotFound     = errors.New("balancecache: user not found in cache")
	ErrInsufficient = errors.New("balancecache: insufficient balance")
)

const keyPrefix = "balance:"

// BalanceCache is the narrow capability Gateway and Worker need from the
// pending-balance store, per spec.md §9's "define them behind narrow
// capability interfaces" redesign. Cache below is the only production
// implementation.
type BalanceCache interface {
	Get(ctx context.Context, userID string) (int64, bool, error)
	Set(ctx context.Context, userID string, value int64) error
	HasSufficient(ctx context.Context, userID string, amount int64) (bool, error)
	Deduct(ctx context.Context, userID string, amount int64) (int64, error)
	Add(ctx context.Context, userID string, amount int64) (int64, error)
}

// Cache is the authoritative pending balance, backed by Redis. It implements
// BalanceCache.
type Cache struct {
	client *redis.Client
}

// New wraps an existing Redis client.
func New(client *redis.Client) *Cache {
	return &Cache{client: client}
}

// Get returns the cached balance for user, or (0, false, nil) on a cold
// miss.
func (c *Cache) Get(ctx context.Context, userID string) (int64, bool, error) {
	val, err := c.client.Get(ctx, keyPrefix+userID).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("balancecache: get failed: %w", err)
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("balancecache: corrupt value for %s: %w", userID, err)
	}
	return n, true, nil
}

// Set unconditionally seeds the cache, used only to rehydrate from the
// user's durable balance on a cold miss.
func (c *Cache) Set(ctx context.Context, userID string, value int64) error {
	if err := c.client.Set(ctx, keyPrefix+userID, strconv.FormatInt(value, 10), 0).Err(); err != nil {
		return fmt.Errorf("balancecache: set failed: %w", err)
	}
	return nil
}

// HasSufficient is an advisory, non-atomic pre-check. Callers MUST NOT
// treat a true result as a substitute for Deduct's own internal check.
func (c *Cache) HasSufficient(ctx context.Context, userID string, amount int64) (bool, error) {
	balance, ok, err := c.Get(ctx, userID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, ErrNotFound
	}
	return balance >= amount, nil
}

var deductScript = redis.NewScript(`
	local key = KEYS[1]
	local amount = tonumber(ARGV[1])

	local current = redis.call("GET", key)
	if current == false then
		return {err = "NOT_FOUND"}
	end

	current = tonumber(current)
	if current < amount then
		return {err = "INSUFFICIENT"}
	end

	local updated = current - amount
	redis.call("SET", key, tostring(updated))
	return tostring(updated)
`)

var addScript = redis.NewScript(`
	local key = KEYS[1]
	local amount = tonumber(ARGV[1])

	local current = redis.call("GET", key)
	if current == false then
		return {err = "NOT_FOUND"}
	end

	local updated = tonumber(current) + amount
	redis.call("SET", key, tostring(updated))
	return tostring(updated)
`)

// Deduct atomically subtracts amount from user's cached balance and
// returns the new balance. It never yields a negative balance: on
// insufficient funds it returns ErrInsufficient without mutating anything;
// on a cold cache it returns ErrNotFound.
func (c *Cache) Deduct(ctx context.Context, userID string, amount int64) (int64, error) {
	return c.runMutation(ctx, deductScript, userID, amount)
}

// Add atomically credits amount to user's cached balance, used to
// compensate a prior Deduct on a failed settlement. ErrNotFound on a cold
// cache.
func (c *Cache) Add(ctx context.Context, userID string, amount int64) (int64, error) {
	return c.runMutation(ctx, addScript, userID, amount)
}

func (c *Cache) runMutation(ctx context.Context, script *redis.Script, userID string, amount int64) (int64, error) {
	res, err := script.Run(ctx, c.client, []string{keyPrefix + userID}, amount).Result()
	if err != nil {
		switch {
		case isScriptErr(err, "NOT_FOUND"):
			return 0, ErrNotFound
		case isScriptErr(err, "INSUFFICIENT"):
			return 0, ErrInsufficient
		default:
			return 0, fmt.Errorf("balancecache: script failed: %w", err)
		}
	}

	s, ok := res.(string)
	if !ok {
		return 0, fmt.Errorf("balancecache: unexpected script result type %T", res)
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("balancecache: unparsable script result: %w", err)
	}
	return n, nil
}

func isScriptErr(err error, code string) bool {
	return err != nil && (err.Error() == code || containsCode(err.Error(), code))
}

func containsCode(msg, code string) bool {
	for i := 0; i+len(code) <= len(msg); i++ {
		if msg[i:i+len(code)] == code {
			return true
		}
	}
	return false
}
