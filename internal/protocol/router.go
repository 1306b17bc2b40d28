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

package protocol

import (
	"context"
	"sort"
	"sync"

	"civic-mesh/pkg/log"
	"civic-mesh/pkg/metrics"
)

// Transport 单个收件方的投递通道。返回的 reply 非 nil 时表示对端同步给出了回复
type Transport interface {
	Deliver(ctx context.Context, env *Envelope) (*Envelope, error)
}

// TransportFunc 函数适配 Transport
type TransportFunc func(ctx context.Context, env *Envelope) (*Envelope, error)

func (f TransportFunc) Deliver(ctx context.Context, env *Envelope) (*Envelope, error) {
	return f(ctx, env)
}

// Broker 多收件方广播；投递尽力而为，不产生可等待的回复
type Broker interface {
	Publish(ctx context.Context, env *Envelope) error
	// Subscribe 订阅发往 identity 的广播，返回取消订阅函数
	Subscribe(ctx context.Context, identity AgentIdentity, fn func(context.Context, *Envelope)) (func(), error)
	Close() error
}

// Router 按收件方身份选择投递通道；单收件方直连，多收件方交给 Broker
type Router struct {
	mu     sync.RWMutex
	routes map[AgentIdentity]Transport
	broker Broker
	logger *log.Logger
}

// NewRouter broker 可为 nil（广播将被丢弃并告警）
func NewRouter(broker Broker, logger *log.Logger) *Router {
	return &Router{
		routes: make(map[AgentIdentity]Transport),
		broker: broker,
		logger: log.OrDefault(logger),
	}
}

// Register 注册或替换 identity 的投递通道
func (r *Router) Register(identity AgentIdentity, t Transport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[identity] = t
}

// Unregister 移除 identity 的投递通道
func (r *Router) Unregister(identity AgentIdentity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.routes, identity)
}

// Lookup 查找投递通道，无路由返回 *RoutingError
func (r *Router) Lookup(identity AgentIdentity) (Transport, error) {
	r.mu.RLock()
	t, ok := r.routes[identity]
	r.mu.RUnlock()
	if !ok {
		return nil, &RoutingError{Recipient: identity}
	}
	return t, nil
}

// Identities 已注册的身份，按标签排序
func (r *Router) Identities() []AgentIdentity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]AgentIdentity, 0, len(r.routes))
	for id := range r.routes {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Broker 当前广播通道，可能为 nil
func (r *Router) Broker() Broker { return r.broker }

// Broadcast 交给 Broker 发布；没有 Broker 时丢弃并告警，不视为错误
func (r *Router) Broadcast(ctx context.Context, env *Envelope) error {
	if r.broker == nil {
		metrics.BroadcastTotal.WithLabelValues("dropped").Inc()
		r.logger.Warn("未配置广播通道，丢弃广播消息",
			"message_id", env.ID, "sender", string(env.Sender), "recipients", len(env.Recipients))
		return nil
	}
	if err := r.broker.Publish(ctx, env); err != nil {
		metrics.BroadcastTotal.WithLabelValues("failed").Inc()
		return err
	}
	metrics.BroadcastTotal.WithLabelValues("published").Inc()
	return nil
}
