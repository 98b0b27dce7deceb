package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisStore 将每个分区保存为一个 Hash（field=URL，value=JSON 响应），
// 并用一个 Set 记录现有分区名称，供激活阶段枚举旧版本。
//
//	<prefix>:stores             SET  分区名称
//	<prefix>:store:<name>       HASH URL → Response JSON
type redisStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisStore 基于 go-redis 客户端构建缓存后端，prefix 为空时使用 edgecache。
func NewRedisStore(client *redis.Client, prefix string) (Store, error) {
	if client == nil {
		return nil, errors.New("redis client required")
	}
	if prefix == "" {
		prefix = "edgecache"
	}
	return &redisStore{
		client: client,
		prefix: prefix,
		now:    time.Now,
	}, nil
}

func (s *redisStore) storesKey() string {
	return s.prefix + ":stores"
}

func (s *redisStore) storeKey(store string) string {
	return s.prefix + ":store:" + store
}

func (s *redisStore) Get(ctx context.Context, store, key string) (*Response, error) {
	if err := validateStoreName(store); err != nil {
		return nil, err
	}
	data, err := s.client.HGet(ctx, s.storeKey(store), key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("redis hget: %w", err)
	}

	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode cache entry: %w", err)
	}
	return &resp, nil
}

func (s *redisStore) Put(ctx context.Context, store, key string, resp *Response) error {
	if err := validateStoreName(store); err != nil {
		return err
	}
	if resp == nil {
		return errors.New("nil response")
	}
	record := resp.Clone()
	record.URL = key
	if record.StoredAt.IsZero() {
		record.StoredAt = s.now().UTC()
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, s.storesKey(), store)
		pipe.HSet(ctx, s.storeKey(store), key, data)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis put: %w", err)
	}
	return nil
}

func (s *redisStore) Delete(ctx context.Context, store, key string) error {
	if err := validateStoreName(store); err != nil {
		return err
	}
	if err := s.client.HDel(ctx, s.storeKey(store), key).Err(); err != nil {
		return fmt.Errorf("redis hdel: %w", err)
	}
	return nil
}

func (s *redisStore) Keys(ctx context.Context, store string) ([]string, error) {
	if err := validateStoreName(store); err != nil {
		return nil, err
	}
	keys, err := s.client.HKeys(ctx, s.storeKey(store)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hkeys: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *redisStore) Stores(ctx context.Context) ([]string, error) {
	names, err := s.client.SMembers(ctx, s.storesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

func (s *redisStore) DeleteStore(ctx context.Context, store string) (bool, error) {
	if err := validateStoreName(store); err != nil {
		return false, err
	}
	var removed *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.SRem(ctx, s.storesKey(), store)
		pipe.Del(ctx, s.storeKey(store))
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("redis delete store: %w", err)
	}
	return removed.Val() > 0, nil
}
