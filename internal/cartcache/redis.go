// Package cartcache stores anonymous carts in Redis. Carts expire after a
// period of inactivity.
package cartcache

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"

	"github.com/xenking/kart-orders/internal/domain/cart"
	"github.com/xenking/kart-orders/internal/domain/pricing"
)

// DefaultTTL is how long an untouched anonymous cart is kept.
const DefaultTTL = 7 * 24 * time.Hour

var _ cart.Store = (*RedisStore)(nil)

// RedisStore keeps each session's lines in a hash, one field per product and
// variant, with the applied coupon in a sibling key.
type RedisStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisStore creates a RedisStore. A non-positive ttl selects DefaultTTL.
func NewRedisStore(client redis.UniversalClient, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Lines(ctx context.Context, session string) ([]cart.Line, error) {
	fields, err := s.client.HGetAll(ctx, linesKey(session)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall failed: %w", err)
	}

	lines := make([]cart.Line, 0, len(fields))
	for field, v := range fields {
		qty, err := strconv.Atoi(v)
		if err != nil || qty <= 0 {
			continue
		}
		key := parseField(field)
		lines = append(lines, cart.Line{ProductID: key.ProductID, VariantID: key.VariantID, Quantity: qty})
	}
	sort.Slice(lines, func(i, j int) bool {
		if lines[i].ProductID != lines[j].ProductID {
			return lines[i].ProductID < lines[j].ProductID
		}
		return lines[i].VariantID < lines[j].VariantID
	})
	return lines, nil
}

func (s *RedisStore) Add(ctx context.Context, session string, line cart.Line) error {
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HIncrBy(ctx, linesKey(session), field(line.Key()), int64(line.Quantity))
		s.touch(ctx, p, session)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis hincrby failed: %w", err)
	}
	return nil
}

func (s *RedisStore) SetQuantity(ctx context.Context, session string, key cart.Key, qty int) error {
	if qty <= 0 {
		return s.Remove(ctx, session, key)
	}
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, linesKey(session), field(key), qty)
		s.touch(ctx, p, session)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis hset failed: %w", err)
	}
	return nil
}

func (s *RedisStore) Remove(ctx context.Context, session string, key cart.Key) error {
	if err := s.client.HDel(ctx, linesKey(session), field(key)).Err(); err != nil {
		return fmt.Errorf("redis hdel failed: %w", err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context, session string) error {
	if err := s.client.Del(ctx, linesKey(session), couponKey(session)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func (s *RedisStore) Coupon(ctx context.Context, session string) (*pricing.Applied, error) {
	data, err := s.client.Get(ctx, couponKey(session)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var applied pricing.Applied
	if err := json.Unmarshal(data, &applied); err != nil {
		return nil, fmt.Errorf("unmarshal coupon failed: %w", err)
	}
	return &applied, nil
}

func (s *RedisStore) SetCoupon(ctx context.Context, session string, applied *pricing.Applied) error {
	if applied == nil {
		if err := s.client.Del(ctx, couponKey(session)).Err(); err != nil {
			return fmt.Errorf("redis delete failed: %w", err)
		}
		return nil
	}

	data, err := json.Marshal(applied)
	if err != nil {
		return fmt.Errorf("marshal coupon failed: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, couponKey(session), data, s.ttl)
		s.touch(ctx, p, session)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// touch slides the expiry of both keys of the session.
func (s *RedisStore) touch(ctx context.Context, p redis.Pipeliner, session string) {
	p.Expire(ctx, linesKey(session), s.ttl)
	p.Expire(ctx, couponKey(session), s.ttl)
}

// Ping reports whether Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func linesKey(session string) string {
	return fmt.Sprintf("cart:anon:%s", session)
}

func couponKey(session string) string {
	return fmt.Sprintf("cart:anon:%s:coupon", session)
}

// field encodes a line key; product and variant ids never contain '|'.
func field(k cart.Key) string {
	return k.ProductID + "|" + k.VariantID
}

func parseField(f string) cart.Key {
	product, variant, _ := strings.Cut(f, "|")
	return cart.Key{ProductID: product, VariantID: variant}
}
