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

package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"civic-mesh/internal/protocol"
	pkgerrors "civic-mesh/pkg/errors"
	"civic-mesh/pkg/log"
	"civic-mesh/pkg/metrics"
)

// ErrShuttingDown Shutdown 之后不再接受新的运行
var ErrShuttingDown = errors.New("orchestrator is shutting down")

// 后台运行默认值
const (
	DefaultMaxConcurrency = 4
	DefaultRunTimeout     = 2 * time.Minute
)

// ServiceConfig 后台运行配置
type ServiceConfig struct {
	MaxConcurrency int           // <=0 使用 DefaultMaxConcurrency
	RunTimeout     time.Duration // <=0 使用 DefaultRunTimeout
}

// Orchestrator 工作流服务：后台启动、查询状态、同步临时组合
type Orchestrator struct {
	engine     *Engine
	store      RunStore
	limiter    chan struct{} // 信号量，限制并发运行数
	runTimeout time.Duration
	logger     *log.Logger

	wg      sync.WaitGroup
	active  atomic.Int64
	closing atomic.Bool
	closeMu sync.RWMutex
}

// NewOrchestrator store 为 nil 时使用内存存储
func NewOrchestrator(engine *Engine, store RunStore, cfg ServiceConfig, logger *log.Logger) *Orchestrator {
	max := cfg.MaxConcurrency
	if max <= 0 {
		max = DefaultMaxConcurrency
	}
	timeout := cfg.RunTimeout
	if timeout <= 0 {
		timeout = DefaultRunTimeout
	}
	if store == nil {
		store = NewMemoryRunStore()
	}
	return &Orchestrator{
		engine:     engine,
		store:      store,
		limiter:    make(chan struct{}, max),
		runTimeout: timeout,
		logger:     log.OrDefault(logger),
	}
}

// Engine 工作流引擎
func (o *Orchestrator) Engine() *Engine { return o.engine }

// Workflows 可用的工作流名
func (o *Orchestrator) Workflows() []string { return o.engine.Names() }

// Active 运行中的工作流数
func (o *Orchestrator) Active() int { return int(o.active.Load()) }

// Start 校验后立即返回 workflow id，工作流在后台执行。
// 工作流不存在返回 ErrWorkflowNotFound，缺少参数返回 ErrInvalidArg
func (o *Orchestrator) Start(ctx context.Context, name string, params protocol.Payload) (string, error) {
	if err := o.engine.Validate(name, params); err != nil {
		return "", err
	}
	o.closeMu.RLock()
	defer o.closeMu.RUnlock()
	if o.closing.Load() {
		return "", ErrShuttingDown
	}

	id := uuid.New().String()
	pending := &WorkflowResult{
		WorkflowID: id,
		Workflow:   name,
		Status:     RunRunning,
		Parameters: params.Clone(),
		Steps:      []StepResult{},
		Actions:    []Action{},
		StartedAt:  time.Now().UTC(),
	}
	if err := o.store.Save(ctx, pending); err != nil {
		return "", err
	}

	o.wg.Add(1)
	go o.run(context.WithoutCancel(ctx), id, name, params.Clone())
	return id, nil
}

func (o *Orchestrator) run(ctx context.Context, id, name string, params protocol.Payload) {
	defer o.wg.Done()
	o.limiter <- struct{}{}
	defer func() { <-o.limiter }()

	o.active.Add(1)
	metrics.WorkflowsActive.Inc()
	defer func() {
		o.active.Add(-1)
		metrics.WorkflowsActive.Dec()
	}()

	runCtx, cancel := context.WithTimeout(ctx, o.runTimeout)
	defer cancel()

	result, err := o.engine.ExecuteWithID(runCtx, id, name, params)
	if err != nil {
		// 注册表在 Start 之后被修改才会走到这里
		now := time.Now().UTC()
		result = &WorkflowResult{
			WorkflowID:  id,
			Workflow:    name,
			Status:      RunFailed,
			Steps:       []StepResult{},
			Actions:     []Action{},
			Error:       err.Error(),
			StartedAt:   now,
			CompletedAt: &now,
		}
	}
	if err := o.store.Save(ctx, result); err != nil {
		o.logger.Error("保存工作流结果失败", "workflow_id", id, "error", err)
		// 至少落一条 failed 记录，避免轮询方一直看到 running
		if err := o.store.Save(ctx, failedResult(result, err)); err != nil {
			o.logger.Error("保存失败记录失败", "workflow_id", id, "error", err)
		}
	}
}

// failedResult 只保留可编码的字段
func failedResult(r *WorkflowResult, cause error) *WorkflowResult {
	now := time.Now().UTC()
	return &WorkflowResult{
		WorkflowID:  r.WorkflowID,
		Workflow:    r.Workflow,
		Status:      RunFailed,
		Parameters:  r.Parameters,
		Steps:       []StepResult{},
		Actions:     []Action{},
		Error:       "save result: " + cause.Error(),
		StartedAt:   r.StartedAt,
		CompletedAt: &now,
	}
}

// Status 运行中返回 running 快照，结束后返回完整结果；未知 id 返回 ErrNotFound
func (o *Orchestrator) Status(ctx context.Context, id string) (*WorkflowResult, error) {
	r, err := o.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, pkgerrors.ErrNotFound) {
			return nil, err
		}
		return nil, pkgerrors.Wrap(err, "load workflow run")
	}
	return r, nil
}

// Execute 同步执行并保存结果
func (o *Orchestrator) Execute(ctx context.Context, name string, params protocol.Payload) (*WorkflowResult, error) {
	result, err := o.engine.Execute(ctx, name, params)
	if err != nil {
		return nil, err
	}
	if err := o.store.Save(ctx, result); err != nil {
		o.logger.Warn("保存工作流结果失败", "workflow_id", result.WorkflowID, "error", err)
	}
	return result, nil
}

// Custom 同步执行临时组合
func (o *Orchestrator) Custom(ctx context.Context, req CustomRequest) (*CustomResult, error) {
	return o.engine.Custom(ctx, req)
}

// Shutdown 拒绝新的运行并等待进行中的运行结束，ctx 到期时提前返回
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.closeMu.Lock()
	o.closing.Store(true)
	o.closeMu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return o.store.Close()
	case <-ctx.Done():
		return ctx.Err()
	}
}
