package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const defaultRedisKey = "cache:data"

// RedisSlot はエントリを Redis の1キーに保存します。
// キー自体にも TTL を付けるため、削除タスクが動かなくても残り続けません。
type RedisSlot struct {
	rdb *redis.Client
	key string
}

// NewRedisSlot は RedisSlot を作成します。
func NewRedisSlot(rdb *redis.Client, key string) *RedisSlot {
	if key == "" {
		key = defaultRedisKey
	}
	return &RedisSlot{rdb: rdb, key: key}
}

func (s *RedisSlot) Load(ctx context.Context) (*Entry, error) {
	data, err := s.rdb.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	return decodeEntry(data)
}

func (s *RedisSlot) Store(ctx context.Context, e *Entry, ttl time.Duration) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "failed to encode cache entry")
	}
	return s.rdb.Set(ctx, s.key, payload, ttl).Err()
}

// DeleteIf は WATCH したキーが entryID のエントリを保持している場合だけ削除します。
// 途中で書き換えられた場合は新しいエントリなので削除しません。
func (s *RedisSlot) DeleteIf(ctx context.Context, entryID string) (bool, error) {
	removed := false
	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, s.key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return nil
			}
			return err
		}
		entry, err := decodeEntry(data)
		if err != nil {
			return err
		}
		if entry.ID != entryID {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, s.key)
			return nil
		})
		if err == nil {
			removed = true
		}
		return err
	}, s.key)
	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	return removed, err
}

func decodeEntry(data []byte) (*Entry, error) {
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, errors.Wrap(err, "failed to parse cache entry")
	}
	if entry.ID == "" {
		return nil, errors.New("cache entry has no id")
	}
	return &entry, nil
}
