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

package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"civic-mesh/internal/protocol"
	"civic-mesh/pkg/config"
	"civic-mesh/pkg/log"
)

// ErrClosed broker 已关闭
var ErrClosed = errors.New("broker closed")

const defaultChannelPrefix = "civic:agent"

// RedisBroker 基于 Redis Pub/Sub 的广播，每个收件方一个频道 <prefix>:<identity>
type RedisBroker struct {
	client *redis.Client
	prefix string
	logger *log.Logger

	mu      sync.Mutex
	pubsubs map[*redis.PubSub]struct{}
	closed  bool
	wg      sync.WaitGroup
}

// NewRedisBroker 连接 Redis 并校验可用性
func NewRedisBroker(cfg config.BrokerConfig, logger *log.Logger) (*RedisBroker, error) {
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
		return nil, fmt.Errorf("连接 Redis 广播失败: %w", err)
	}
	return NewRedisBrokerWithClient(client, cfg.ChannelPrefix, logger), nil
}

// NewRedisBrokerWithClient 复用已有客户端
func NewRedisBrokerWithClient(client *redis.Client, prefix string, logger *log.Logger) *RedisBroker {
	if prefix == "" {
		prefix = defaultChannelPrefix
	}
	return &RedisBroker{
		client:  client,
		prefix:  prefix,
		logger:  log.OrDefault(logger),
		pubsubs: make(map[*redis.PubSub]struct{}),
	}
}

// Channel identity 对应的频道名
func (b *RedisBroker) Channel(identity protocol.AgentIdentity) string {
	return b.prefix + ":" + string(identity)
}

// Publish 编码一次，逐个收件方频道发布
func (b *RedisBroker) Publish(ctx context.Context, env *protocol.Envelope) error {
	data, err := protocol.Encode(env)
	if err != nil {
		return err
	}
	var errs []error
	for _, r := range env.Recipients {
		if err := b.client.Publish(ctx, b.Channel(r), data).Err(); err != nil {
			errs = append(errs, fmt.Errorf("publish %s: %w", r, err))
		}
	}
	return errors.Join(errs...)
}

// Subscribe 订阅 identity 的频道；无法解码的消息记录后丢弃
func (b *RedisBroker) Subscribe(ctx context.Context, identity protocol.AgentIdentity, fn func(context.Context, *protocol.Envelope)) (func(), error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	ps := b.client.Subscribe(ctx, b.Channel(identity))
	b.pubsubs[ps] = struct{}{}
	b.mu.Unlock()

	// 等待订阅确认，保证返回后发布的消息不会丢失
	if _, err := ps.Receive(ctx); err != nil {
		b.release(ps)
		return nil, fmt.Errorf("订阅 %s 失败: %w", b.Channel(identity), err)
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for msg := range ps.Channel() {
			env, err := protocol.Decode([]byte(msg.Payload))
			if err != nil {
				b.logger.Warn("丢弃无法解码的广播消息", "channel", msg.Channel, "error", err)
				continue
			}
			fn(context.Background(), env)
		}
	}()
	return func() { b.release(ps) }, nil
}

func (b *RedisBroker) release(ps *redis.PubSub) {
	b.mu.Lock()
	_, ok := b.pubsubs[ps]
	delete(b.pubsubs, ps)
	b.mu.Unlock()
	if ok {
		_ = ps.Close()
	}
}

// Close 关闭所有订阅与客户端
func (b *RedisBroker) Close() error {
	b.mu.Lock()
	b.closed = true
	pss := make([]*redis.PubSub, 0, len(b.pubsubs))
	for ps := range b.pubsubs {
		pss = append(pss, ps)
	}
	b.pubsubs = make(map[*redis.PubSub]struct{})
	b.mu.Unlock()
	for _, ps := range pss {
		_ = ps.Close()
	}
	b.wg.Wait()
	return b.client.Close()
}
