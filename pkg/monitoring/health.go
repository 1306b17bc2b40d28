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

// Package monitoring agent 网格健康报告（不依赖 internal，数据来源以接口注入）
package monitoring

import (
	"context"
	"sort"
	"sync"
	"time"
)

// 健康状态
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
)

// DefaultProbeTimeout 单个依赖探测的超时
const DefaultProbeTimeout = 2 * time.Second

// AgentStatus 单个 agent 的路由与挂起情况
type AgentStatus struct {
	Identity  string `json:"identity"`
	Transport string `json:"transport"` // local | http | 其他
	Address   string `json:"address,omitempty"`
	Hosted    bool   `json:"hosted"`  // 是否在本进程托管
	Pending   int    `json:"pending"` // 本端点尚未结算的出站请求
}

// AgentSource 提供 agent 路由与挂起请求快照
type AgentSource interface {
	AgentStatuses() []AgentStatus
}

// WorkflowSource 提供工作流运行情况
type WorkflowSource interface {
	Active() int
	Workflows() []string
}

// Probe 依赖探测，返回 error 视为不可用
type Probe func(ctx context.Context) error

// DependencyStatus 依赖探测结果
type DependencyStatus struct {
	Name      string `json:"name"`
	Healthy   bool   `json:"healthy"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

// HealthReport GET /api/health 的返回体
type HealthReport struct {
	Status          string             `json:"status"`
	Service         string             `json:"service"`
	Timestamp       int64              `json:"timestamp"`
	Agents          []AgentStatus      `json:"agents"`
	PendingRequests int                `json:"pending_requests"`
	ActiveWorkflows int                `json:"active_workflows"`
	Workflows       []string           `json:"workflows"`
	Dependencies    []DependencyStatus `json:"dependencies"`
}

// Reporter 汇总 agent、工作流与依赖探测
type Reporter struct {
	service      string
	agents       AgentSource
	workflows    WorkflowSource
	probeTimeout time.Duration

	mu     sync.RWMutex
	probes map[string]Probe
}

// NewReporter agents、workflows 均可为 nil
func NewReporter(service string, agents AgentSource, workflows WorkflowSource) *Reporter {
	return &Reporter{
		service:      service,
		agents:       agents,
		workflows:    workflows,
		probeTimeout: DefaultProbeTimeout,
		probes:       make(map[string]Probe),
	}
}

// WithProbeTimeout 设置单个探测超时
func (r *Reporter) WithProbeTimeout(d time.Duration) *Reporter {
	if d > 0 {
		r.probeTimeout = d
	}
	return r
}

// AddProbe 注册依赖探测，同名替换
func (r *Reporter) AddProbe(name string, p Probe) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.probes[name] = p
}

// Report 生成健康报告。任一依赖探测失败或没有可路由的 agent 时为 degraded
func (r *Reporter) Report(ctx context.Context) *HealthReport {
	rep := &HealthReport{
		Status:       StatusOK,
		Service:      r.service,
		Timestamp:    time.Now().Unix(),
		Agents:       []AgentStatus{},
		Workflows:    []string{},
		Dependencies: r.runProbes(ctx),
	}
	if r.agents != nil {
		rep.Agents = append(rep.Agents, r.agents.AgentStatuses()...)
	}
	sort.Slice(rep.Agents, func(i, j int) bool { return rep.Agents[i].Identity < rep.Agents[j].Identity })
	for _, a := range rep.Agents {
		rep.PendingRequests += a.Pending
	}
	if r.workflows != nil {
		rep.ActiveWorkflows = r.workflows.Active()
		rep.Workflows = append(rep.Workflows, r.workflows.Workflows()...)
	}

	if len(rep.Agents) == 0 {
		rep.Status = StatusDegraded
	}
	for _, d := range rep.Dependencies {
		if !d.Healthy {
			rep.Status = StatusDegraded
		}
	}
	return rep
}

// runProbes 并发探测，结果按名称排序
func (r *Reporter) runProbes(ctx context.Context) []DependencyStatus {
	r.mu.RLock()
	names := make([]string, 0, len(r.probes))
	for name := range r.probes {
		names = append(names, name)
	}
	probes := make(map[string]Probe, len(r.probes))
	for k, v := range r.probes {
		probes[k] = v
	}
	r.mu.RUnlock()
	sort.Strings(names)

	out := make([]DependencyStatus, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, r.probeTimeout)
			defer cancel()
			start := time.Now()
			err := probes[name](pctx)
			out[i] = DependencyStatus{Name: name, Healthy: err == nil, LatencyMS: time.Since(start).Milliseconds()}
			if err != nil {
				out[i].Error = err.Error()
			}
		}(i, name)
	}
	wg.Wait()
	return out
}
