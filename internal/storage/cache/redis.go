// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"civic-mesh/pkg/config"
	"civic-mesh/pkg/errors"
)

// RedisStore 基于 Redis 的缓存；所有键带 prefix，Clear 只删除本前缀下的键
type RedisStore struct {
	client     *redis.Client
	prefix     string
	defaultTTL time.Duration
}

// NewRedisStore 连接 Redis 并 Ping 校验
func NewRedisStore(cfg config.CacheConfig, prefix string) (*RedisStore, error) {
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if opts.Addr == "" {
		opts.Addr = "localhost:6379"
	}
	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("连接 Redis 缓存失败: %w", err)
	}
	return NewRedisStoreWithClient(client, prefix, config.ParseDuration(cfg.TTL, 0)), nil
}

// NewRedisStoreWithClient 复用已有客户端
func NewRedisStoreWithClient(client *redis.Client, prefix string, defaultTTL time.Duration) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, defaultTTL: defaultTTL}
}

func (s *RedisStore) key(k string) string { return s.prefix + k }

// Set 写入缓存，expiration<=0 时使用默认 TTL（默认 TTL 也为 0 时不过期）
func (s *RedisStore) Set(ctx context.Context, key string, value any, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}
	if expiration <= 0 {
		expiration = s.defaultTTL
	}
	return s.client.Set(ctx, s.key(key), data, expiration).Err()
}

// Get 读取缓存；redis.Nil 转为 ErrNotFound
func (s *RedisStore) Get(ctx context.Context, key string, dest any) error {
	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err == redis.Nil {
		return errors.Wrapf(errors.ErrNotFound, "cache key %s", key)
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("failed to unmarshal cache value: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.key(key)).Err()
}

func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(key)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Clear 以 SCAN 遍历前缀下的键并删除
func (s *RedisStore) Clear(ctx context.Context) error {
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 200).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= 200 {
			if err := s.client.Del(ctx, batch...).Err(); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(batch) > 0 {
		return s.client.Del(ctx, batch...).Err()
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
