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

package endpoint

import (
	"context"
	"errors"
	"sort"
	"sync"

	"civic-mesh/internal/protocol"
)

// Hub 本进程托管的端点集合，供 HTTP 入口按收件方分发入站消息
type Hub struct {
	mu        sync.RWMutex
	endpoints map[protocol.AgentIdentity]*Endpoint
}

// NewHub 创建空集合
func NewHub() *Hub {
	return &Hub{endpoints: make(map[protocol.AgentIdentity]*Endpoint)}
}

// Add 托管端点，同一身份重复添加时替换
func (h *Hub) Add(ep *Endpoint) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.endpoints[ep.Identity()] = ep
}

// Get 按身份查找端点
func (h *Hub) Get(identity protocol.AgentIdentity) (*Endpoint, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ep, ok := h.endpoints[identity]
	return ep, ok
}

// Identities 托管的身份，按标签排序
func (h *Hub) Identities() []protocol.AgentIdentity {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]protocol.AgentIdentity, 0, len(h.endpoints))
	for id := range h.endpoints {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Pending 所有端点尚未结算的出站请求数
func (h *Hub) Pending() map[protocol.AgentIdentity]int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[protocol.AgentIdentity]int, len(h.endpoints))
	for id, ep := range h.endpoints {
		out[id] = ep.Pending()
	}
	return out
}

// Dispatch 把入站消息交给收件方端点。单收件方时返回其回复；
// 多收件方按广播处理，逐个交付且不返回回复。没有本地收件方返回 *RoutingError
func (h *Hub) Dispatch(ctx context.Context, env *protocol.Envelope) (*protocol.Envelope, error) {
	if err := env.Validate(); err != nil {
		return nil, err
	}
	if !env.IsBroadcast() {
		ep, ok := h.Get(env.Recipient())
		if !ok {
			return nil, &protocol.RoutingError{Recipient: env.Recipient()}
		}
		return ep.Receive(ctx, env)
	}

	delivered := 0
	var errs []error
	for _, id := range env.Recipients {
		ep, ok := h.Get(id)
		if !ok {
			continue
		}
		delivered++
		if _, err := ep.Receive(ctx, env.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	if delivered == 0 {
		return nil, &protocol.RoutingError{Recipient: env.Recipients[0]}
	}
	return nil, errors.Join(errs...)
}

// Close 关闭全部端点
func (h *Hub) Close() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var errs []error
	for _, ep := range h.endpoints {
		if err := ep.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
