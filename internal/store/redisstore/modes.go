package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/suPer8Hu/relay-bot/internal/common"
	"github.com/suPer8Hu/relay-bot/internal/mode"
)

const keyPrefix = "relaybot:mode:"

// ModeStore keeps mode state as JSON blobs that expire after ttl of inactivity.
type ModeStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func New(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func NewModeStore(rdb *redis.Client, ttl time.Duration) *ModeStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &ModeStore{rdb: rdb, ttl: ttl}
}

func (s *ModeStore) redisKey(key mode.Key) string {
	return keyPrefix + key.String()
}

func (s *ModeStore) Load(ctx context.Context, key mode.Key) (mode.State, bool, error) {
	raw, err := s.rdb.Get(ctx, s.redisKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return mode.State{}, false, nil
		}
		return mode.State{}, false, common.StoreErr("redis get mode", err)
	}
	var st mode.State
	if err := json.Unmarshal(raw, &st); err != nil {
		// a blob we cannot read is treated as lost state
		return mode.State{}, false, nil
	}
	return st, true, nil
}

func (s *ModeStore) Save(ctx context.Context, key mode.Key, st mode.State) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, s.redisKey(key), raw, s.ttl).Err(); err != nil {
		return common.StoreErr("redis set mode", err)
	}
	return nil
}
