package expiring

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisRecordVersionV1 = 1 // deadline in unix milliseconds
	redisRecordVersionV2 = 2 // deadline in unix nanoseconds
	redisHeaderSize      = 1 + 8
	defaultRedisPrefix   = "agx"
)

var errRedisRecordInvalid = errors.New("expiring record invalid")

// takeLua atomically performs GET -> DEL.
// KEYS[1] = record key
//
// The record is deleted whenever it exists, so a second caller always
// receives nil. The deadline is checked by the caller on the returned
// record with nanosecond precision; Lua numbers are doubles and cannot
// hold a UnixNano exactly.
var takeLua = redis.NewScript(`
local data = redis.call('GET', KEYS[1])
if not data then
  return false
end
redis.call('DEL', KEYS[1])
return data
`)

// RedisConfig tunes a [RedisStore].
type RedisConfig struct {
	// Prefix namespaces keys as "<prefix>:<id>". Defaults to "agx".
	Prefix string
	// Now is the clock used for deadlines. Defaults to time.Now.
	Now func() time.Time
}

// RedisStore is a [Store] backed by Redis. Each record carries its own
// deadline so validity follows the caller clock; the Redis TTL only
// reclaims memory.
type RedisStore[T any] struct {
	redis  redis.UniversalClient
	codec  Codec[T]
	prefix string
	now    func() time.Time
}

// NewRedisStore returns a store using client and codec.
func NewRedisStore[T any](client redis.UniversalClient, codec Codec[T], cfg RedisConfig) *RedisStore[T] {
	if cfg.Prefix == "" {
		cfg.Prefix = defaultRedisPrefix
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &RedisStore[T]{
		redis:  client,
		codec:  codec,
		prefix: cfg.Prefix,
		now:    cfg.Now,
	}
}

func (s *RedisStore[T]) key(id string) string {
	return s.prefix + ":" + id
}

// Put implements [Store]. A non-positive ttl removes the entry.
func (s *RedisStore[T]) Put(ctx context.Context, id string, value T, ttl time.Duration) error {
	if ttl <= 0 {
		return s.Remove(ctx, id)
	}

	payload, err := s.codec.Encode(value)
	if err != nil {
		return err
	}
	record := encodeRedisRecord(s.now().Add(ttl), payload)

	if err := s.redis.Set(ctx, s.key(id), record, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// TakeIfValid implements [Store].
func (s *RedisStore[T]) TakeIfValid(ctx context.Context, id string) (T, bool, error) {
	var zero T

	data, err := takeLua.Run(ctx, s.redis, []string{s.key(id)}).Text()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return zero, false, nil
		}
		return zero, false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	expiresAt, payload, err := decodeRedisRecord([]byte(data))
	if err != nil {
		return zero, false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !Valid(s.now(), expiresAt) {
		return zero, false, nil
	}
	value, err := s.codec.Decode(payload)
	if err != nil {
		return zero, false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return value, true, nil
}

// Remove implements [Store].
func (s *RedisStore[T]) Remove(ctx context.Context, id string) error {
	if err := s.redis.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func encodeRedisRecord(expiresAt time.Time, payload []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(redisHeaderSize + len(payload))

	buf.WriteByte(redisRecordVersionV2)
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(expiresAt.UnixNano()))
	buf.Write(ts[:])
	buf.Write(payload)

	return buf.Bytes()
}

func decodeRedisRecord(data []byte) (time.Time, []byte, error) {
	if len(data) < redisHeaderSize {
		return time.Time{}, nil, errRedisRecordInvalid
	}
	ts := int64(binary.BigEndian.Uint64(data[1:redisHeaderSize]))
	switch data[0] {
	case redisRecordVersionV1:
		return time.UnixMilli(ts), data[redisHeaderSize:], nil
	case redisRecordVersionV2:
		return time.Unix(0, ts), data[redisHeaderSize:], nil
	default:
		return time.Time{}, nil, errRedisRecordInvalid
	}
}
