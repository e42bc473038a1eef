package expiring

import (
	"context"
	"errors"
	"time"
)

// ErrStoreUnavailable wraps every backend failure returned by a [Store].
var ErrStoreUnavailable = errors.New("expiring store unavailable")

// Store is a keyed, expiring, single-read store.
//
// Put overwrites any entry for id and sets its deadline to now+ttl.
// TakeIfValid removes the entry for id and returns it with ok=true only when
// it exists and its deadline still holds; an expired entry is removed and
// reported with ok=false. For a given id at most one caller ever observes
// ok=true. Remove deletes unconditionally and is idempotent.
type Store[T any] interface {
	Put(ctx context.Context, id string, value T, ttl time.Duration) error
	TakeIfValid(ctx context.Context, id string) (value T, ok bool, err error)
	Remove(ctx context.Context, id string) error
}

// Codec converts store payloads to and from bytes for byte-oriented backends.
type Codec[T any] interface {
	Encode(value T) ([]byte, error)
	Decode(data []byte) (T, error)
}

// StringCodec stores strings verbatim.
type StringCodec struct{}

// Encode implements [Codec].
func (StringCodec) Encode(value string) ([]byte, error) {
	return []byte(value), nil
}

// Decode implements [Codec].
func (StringCodec) Decode(data []byte) (string, error) {
	return string(data), nil
}
