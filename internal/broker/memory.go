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
	"sync"

	"civic-mesh/internal/protocol"
	"civic-mesh/pkg/log"
)

type subscriber struct {
	id int
	fn func(context.Context, *protocol.Envelope)
}

// MemoryBroker 进程内广播：每个收件方的每个订阅者在独立 goroutine 中收到消息副本
type MemoryBroker struct {
	mu     sync.RWMutex
	subs   map[protocol.AgentIdentity][]subscriber
	nextID int
	closed bool
	wg     sync.WaitGroup
	logger *log.Logger
}

// NewMemoryBroker 创建内存广播
func NewMemoryBroker(logger *log.Logger) *MemoryBroker {
	return &MemoryBroker{
		subs:   make(map[protocol.AgentIdentity][]subscriber),
		logger: log.OrDefault(logger),
	}
}

// Publish 向每个收件方的订阅者投递；没有订阅者的收件方被跳过
func (b *MemoryBroker) Publish(ctx context.Context, env *protocol.Envelope) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	for _, r := range env.Recipients {
		subs := b.subs[r]
		if len(subs) == 0 {
			b.logger.Debug("广播收件方无订阅者", "recipient", string(r), "message_id", env.ID)
			continue
		}
		for _, s := range subs {
			b.wg.Add(1)
			go func(fn func(context.Context, *protocol.Envelope), msg *protocol.Envelope) {
				defer b.wg.Done()
				fn(context.WithoutCancel(ctx), msg)
			}(s.fn, env.Clone())
		}
	}
	return nil
}

// Subscribe 订阅发往 identity 的广播
func (b *MemoryBroker) Subscribe(_ context.Context, identity protocol.AgentIdentity, fn func(context.Context, *protocol.Envelope)) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	b.nextID++
	id := b.nextID
	b.subs[identity] = append(b.subs[identity], subscriber{id: id, fn: fn})
	return func() { b.unsubscribe(identity, id) }, nil
}

func (b *MemoryBroker) unsubscribe(identity protocol.AgentIdentity, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[identity]
	for i, s := range subs {
		if s.id == id {
			b.subs[identity] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Close 停止接收新消息并等待已派发的回调结束
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	b.closed = true
	b.subs = make(map[protocol.AgentIdentity][]subscriber)
	b.mu.Unlock()
	b.wg.Wait()
	return nil
}
