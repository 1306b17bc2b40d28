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

package app

import (
	"context"
	"fmt"
	"sort"
	"time"

	"civic-mesh/internal/endpoint"
	"civic-mesh/internal/protocol"
	"civic-mesh/pkg/config"
	"civic-mesh/pkg/log"
	"civic-mesh/pkg/monitoring"
)

// DefaultDeliveryTimeout 单次 HTTP 投递超时
const DefaultDeliveryTimeout = 30 * time.Second

// Mesh 本进程的路由表与托管端点
type Mesh struct {
	Router *protocol.Router
	Hub    *endpoint.Hub
	logger *log.Logger
	stops  []func()
}

// NewMesh 托管 hosted 中的身份（LocalTransport），agents.remote 中的身份走 HTTPTransport。
// 同一身份同时出现在两处时本地优先；orchestrator 只发起请求，不注册分析 handler
func NewMesh(ctx context.Context, b *Bootstrap, hosted []protocol.AgentIdentity) (*Mesh, error) {
	cfg := b.Config
	requestTimeout := config.ParseDuration(cfg.Protocol.RequestTimeout, endpoint.DefaultTimeout)
	deliveryTimeout := config.ParseDuration(cfg.Protocol.DeliveryTimeout, DefaultDeliveryTimeout)

	m := &Mesh{
		Router: protocol.NewRouter(b.Broker, b.Logger),
		Hub:    endpoint.NewHub(),
		logger: b.Logger,
	}
	for _, id := range hosted {
		if _, ok := m.Hub.Get(id); ok {
			continue
		}
		ep, err := endpoint.New(id, m.Router, b.Logger, endpoint.WithDefaultTimeout(requestTimeout))
		if err != nil {
			m.Close()
			return nil, err
		}
		if id != protocol.Orchestrator {
			endpoint.RegisterAnalysisHandlers(ep, b.Collaborators(), b.Logger)
		}
		m.Hub.Add(ep)
		m.Router.Register(id, endpoint.NewLocalTransport(ep))

		stop, err := ep.Listen(ctx)
		if err != nil {
			m.Close()
			return nil, fmt.Errorf("订阅广播失败 (%s): %w", id, err)
		}
		m.stops = append(m.stops, stop)
	}

	remotes := make([]string, 0, len(cfg.Agents.Remote))
	for name := range cfg.Agents.Remote {
		remotes = append(remotes, name)
	}
	sort.Strings(remotes)
	for _, name := range remotes {
		id, err := protocol.ResolveIdentity(name)
		if err != nil {
			m.Close()
			return nil, fmt.Errorf("agents.remote: %w", err)
		}
		if _, ok := m.Hub.Get(id); ok {
			b.Logger.Warn("agent 已在本进程托管，忽略远端地址", "agent", string(id), "url", cfg.Agents.Remote[name])
			continue
		}
		m.Router.Register(id, endpoint.NewHTTPTransport(cfg.Agents.Remote[name], deliveryTimeout))
	}
	b.Logger.Info("agent 路由就绪", "hosted", len(m.Hub.Identities()), "routes", len(m.Router.Identities()))
	return m, nil
}

// Endpoint 托管的端点
func (m *Mesh) Endpoint(id protocol.AgentIdentity) (*endpoint.Endpoint, bool) {
	return m.Hub.Get(id)
}

// AgentStatuses 实现 monitoring.AgentSource
func (m *Mesh) AgentStatuses() []monitoring.AgentStatus {
	pending := m.Hub.Pending()
	ids := m.Router.Identities()
	out := make([]monitoring.AgentStatus, 0, len(ids))
	for _, id := range ids {
		s := monitoring.AgentStatus{Identity: string(id), Transport: "custom"}
		if t, err := m.Router.Lookup(id); err == nil {
			switch tt := t.(type) {
			case *endpoint.LocalTransport:
				s.Transport = "local"
			case *endpoint.HTTPTransport:
				s.Transport = "http"
				s.Address = tt.URL()
			}
		}
		if n, ok := pending[id]; ok {
			s.Hosted = true
			s.Pending = n
		}
		out = append(out, s)
	}
	return out
}

// Close 取消广播订阅并等待在途投递
func (m *Mesh) Close() error {
	for _, stop := range m.stops {
		stop()
	}
	m.stops = nil
	return m.Hub.Close()
}

// HostedIdentities 解析配置中的 agent 名（标识或别名）
func HostedIdentities(names []string) ([]protocol.AgentIdentity, error) {
	out := make([]protocol.AgentIdentity, 0, len(names))
	for _, name := range names {
		id, err := protocol.ResolveIdentity(name)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}
