package redisx

import (
	"context"
	"errors"
	"fmt"
	"github.com/redis/go-redis/v9"
	"strconv"
)

const inFlight = "pending"

// ErrInFlight means another request with the same key has not finished yet.
var ErrInFlight = errors.New("request with this idempotency key is in progress")

type Idempotency struct{ RDB *redis.Client }

// Begin claims the key. started=true means the caller owns it and must call
// Complete or Abort; otherwise orderID is the order created earlier.
func (i *Idempotency) Begin(ctx context.Context, userID int64, key string) (orderID int64, started bool, err error) {
	k := fmt.Sprintf(KeyIdemOrderCreate, userID, key)
	ok, err := i.RDB.SetNX(ctx, k, inFlight, TTLInFlight).Result()
	if err != nil {
		return 0, false, err
	}
	if ok {
		return 0, true, nil
	}
	v, err := i.RDB.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET; treat as a fresh claim attempt
		return i.Begin(ctx, userID, key)
	}
	if err != nil {
		return 0, false, err
	}
	if v == inFlight {
		return 0, false, ErrInFlight
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("idempotency value %q: %w", v, err)
	}
	return id, false, nil
}

func (i *Idempotency) Complete(ctx context.Context, userID int64, key string, orderID int64) error {
	return i.RDB.Set(ctx, fmt.Sprintf(KeyIdemOrderCreate, userID, key), orderID, TTLIdempotency).Err()
}

// Abort releases the claim so the client may retry with the same key.
func (i *Idempotency) Abort(ctx context.Context, userID int64, key string) error {
	return i.RDB.Del(ctx, fmt.Sprintf(KeyIdemOrderCreate, userID, key)).Err()
}
