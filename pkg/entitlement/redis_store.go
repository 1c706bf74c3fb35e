package entitlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	redisAccountKeyPrefix = "entitlement:account:"
	redisEmailKeyPrefix   = "entitlement:email:"
	redisPendingKey       = "entitlement:pending_downgrades"
)

// redisStore persists accounts as JSON values with an embedded version
// field. CompareAndSet runs under WATCH: if another writer touches the key
// between the read and the MULTI/EXEC, the transaction fails and surfaces
// as ErrVersionConflict. Pending downgrades are indexed in a sorted set
// scored by when the current tier took effect, so the reconciliation sweep
// is a single ZRANGEBYSCORE.
type redisStore struct {
	client redis.UniversalClient
}

// NewRedisStore returns a Store backed by the given Redis client.
func NewRedisStore(client redis.UniversalClient) Store {
	if client == nil {
		panic("entitlement: redis client is required")
	}
	return &redisStore{client: client}
}

func accountKey(id uuid.UUID) string {
	return redisAccountKeyPrefix + id.String()
}

func emailKey(email string) string {
	return redisEmailKeyPrefix + normalizeEmail(email)
}

func (s *redisStore) Get(ctx context.Context, id uuid.UUID) (*Account, error) {
	return s.getByKey(ctx, accountKey(id))
}

func (s *redisStore) getByKey(ctx context.Context, key string) (*Account, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("get account: %w", err)
	}

	var acc Account
	if err := json.Unmarshal(raw, &acc); err != nil {
		return nil, fmt.Errorf("decode account: %w", err)
	}
	return &acc, nil
}

func (s *redisStore) FindByEmail(ctx context.Context, email string) (*Account, error) {
	id, err := s.client.Get(ctx, emailKey(email)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("get email index: %w", err)
	}

	accountID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("corrupt email index for %s: %w", email, err)
	}
	return s.Get(ctx, accountID)
}

func (s *redisStore) Create(ctx context.Context, acc *Account) error {
	if acc.Version == 0 {
		acc.Version = 1
	}

	data, err := json.Marshal(acc)
	if err != nil {
		return fmt.Errorf("encode account: %w", err)
	}

	// The email index and the account value are written in one MULTI/EXEC
	// under WATCH on the email key, so an interrupted create never leaves a
	// claimed email without its account. An index entry whose account value
	// is missing is treated as stale and reclaimed.
	idx := emailKey(acc.Email)
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		owner, err := tx.Get(ctx, idx).Result()
		switch {
		case err == nil:
			if id, parseErr := uuid.Parse(owner); parseErr == nil {
				exists, err := tx.Exists(ctx, accountKey(id)).Result()
				if err != nil {
					return fmt.Errorf("check email index owner: %w", err)
				}
				if exists > 0 {
					return ErrAccountExists
				}
			}
		case !errors.Is(err, redis.Nil):
			return fmt.Errorf("get email index: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, idx, acc.ID.String(), 0)
			pipe.SetNX(ctx, accountKey(acc.ID), data, 0)
			return nil
		})
		return err
	}, idx)

	// EXEC aborted because another registration claimed the email.
	if errors.Is(err, redis.TxFailedErr) {
		return ErrAccountExists
	}
	return err
}

func (s *redisStore) CompareAndSet(ctx context.Context, acc *Account, expectedVersion int64) error {
	key := accountKey(acc.ID)

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrAccountNotFound
			}
			return fmt.Errorf("get account: %w", err)
		}

		var current Account
		if err := json.Unmarshal(raw, &current); err != nil {
			return fmt.Errorf("decode account: %w", err)
		}
		if current.Version != expectedVersion {
			return ErrVersionConflict
		}

		next := acc.Clone()
		next.Version = expectedVersion + 1
		data, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode account: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			if next.IsPendingDowngrade() {
				pipe.ZAdd(ctx, redisPendingKey, redis.Z{
					Score:  float64(next.EffectiveSince.Unix()),
					Member: next.ID.String(),
				})
			} else {
				pipe.ZRem(ctx, redisPendingKey, next.ID.String())
			}
			return nil
		})
		return err
	}, key)

	if err != nil {
		// EXEC aborted because the watched key changed under us.
		if errors.Is(err, redis.TxFailedErr) {
			return ErrVersionConflict
		}
		return err
	}

	acc.Version = expectedVersion + 1
	return nil
}

func (s *redisStore) PendingDowngrades(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	members, err := s.client.ZRangeByScore(ctx, redisPendingKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(cutoff.Unix(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("query pending downgrades: %w", err)
	}

	ids := make([]uuid.UUID, 0, len(members))
	for _, m := range members {
		id, err := uuid.Parse(m)
		if err != nil {
			return nil, fmt.Errorf("corrupt pending downgrade entry %q: %w", m, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
