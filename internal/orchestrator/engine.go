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

// Package orchestrator 多 agent 工作流：并行/顺序组合请求，合成结果并给出行动建议。
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"civic-mesh/internal/protocol"
	pkgerrors "civic-mesh/pkg/errors"
	"civic-mesh/pkg/log"
	"civic-mesh/pkg/metrics"
	"civic-mesh/pkg/tracing"
)

// ErrWorkflowNotFound 未注册的工作流名
var ErrWorkflowNotFound = errors.New("workflow not found")

// RunStatus 工作流运行状态
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// WorkflowResult 一次工作流运行的结果；完成后不再修改，读取时返回副本
type WorkflowResult struct {
	WorkflowID  string           `json:"workflow_id"`
	Workflow    string           `json:"workflow"`
	Status      RunStatus        `json:"status"`
	Parameters  protocol.Payload `json:"parameters,omitempty"`
	Steps       []StepResult     `json:"steps"`
	Synthesis   *Synthesis       `json:"synthesis,omitempty"`
	Actions     []Action         `json:"action_recommendations"`
	Error       string           `json:"error,omitempty"`
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}

// Done 是否已结束
func (r *WorkflowResult) Done() bool {
	return r.Status == RunCompleted || r.Status == RunFailed
}

// Clone 深拷贝
func (r *WorkflowResult) Clone() *WorkflowResult {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Parameters = r.Parameters.Clone()
	cp.Steps = make([]StepResult, len(r.Steps))
	for i, s := range r.Steps {
		cp.Steps[i] = s.clone()
	}
	if r.Synthesis != nil {
		s := *r.Synthesis
		s.KeyPoints = append([]string(nil), r.Synthesis.KeyPoints...)
		s.Missing = append([]string(nil), r.Synthesis.Missing...)
		cp.Synthesis = &s
	}
	cp.Actions = make([]Action, len(r.Actions))
	for i, a := range r.Actions {
		a.Targets = append([]string(nil), a.Targets...)
		cp.Actions[i] = a
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

// Run 单次工作流执行期间的上下文，收集步骤结果
type Run struct {
	ID     string
	x      *Execution
	mu     sync.Mutex
	steps  []StepResult
	action bool
}

// Parallel 见 Execution.Parallel，结果计入本次运行
func (r *Run) Parallel(ctx context.Context, steps ...Step) []StepResult {
	return r.record(r.x.Parallel(ctx, steps...))
}

// Sequential 见 Execution.Sequential，结果计入本次运行
func (r *Run) Sequential(ctx context.Context, breakOnFailure bool, steps ...Step) []StepResult {
	return r.record(r.x.Sequential(ctx, breakOnFailure, steps...))
}

// RecommendActions 合成后按 ActionPolicy 生成行动建议
func (r *Run) RecommendActions() {
	r.mu.Lock()
	r.action = true
	r.mu.Unlock()
}

func (r *Run) record(results []StepResult) []StepResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, results...)
	return results
}

// WorkflowFunc 工作流主体；返回 error 表示工作流本身失败（步骤失败通过 StepResult 体现）
type WorkflowFunc func(ctx context.Context, run *Run, params protocol.Payload) error

type workflow struct {
	fn       WorkflowFunc
	required []string
}

// EngineOption 引擎选项
type EngineOption func(*Engine)

// WithSynthesizer 替换默认合成器
func WithSynthesizer(s Synthesizer) EngineOption {
	return func(e *Engine) { e.synth = s }
}

// WithActionPolicy 替换默认行动策略
func WithActionPolicy(p ActionPolicy) EngineOption {
	return func(e *Engine) { e.policy = p }
}

// Engine 工作流注册表与执行器
type Engine struct {
	x      *Execution
	synth  Synthesizer
	policy ActionPolicy
	logger *log.Logger

	mu        sync.RWMutex
	workflows map[string]workflow
}

// NewEngine 创建引擎
func NewEngine(x *Execution, logger *log.Logger, opts ...EngineOption) *Engine {
	e := &Engine{
		x:         x,
		synth:     DefaultSynthesizer{},
		policy:    NewThresholdActionPolicy(DefaultViabilityCutoff),
		logger:    log.OrDefault(logger),
		workflows: make(map[string]workflow),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execution 底层执行器
func (e *Engine) Execution() *Execution { return e.x }

// Register 注册工作流；required 为必填参数名
func (e *Engine) Register(name string, fn WorkflowFunc, required ...string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.workflows[name] = workflow{fn: fn, required: required}
}

// Names 已注册的工作流名，排序
func (e *Engine) Names() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.workflows))
	for name := range e.workflows {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Validate 检查工作流存在且必填参数齐全
func (e *Engine) Validate(name string, params protocol.Payload) error {
	e.mu.RLock()
	w, ok := e.workflows[name]
	e.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrWorkflowNotFound, name)
	}
	for _, key := range w.required {
		v, ok := params[key]
		if !ok || v == nil || v == "" {
			return pkgerrors.Wrapf(pkgerrors.ErrInvalidArg, "workflow %s requires parameter %q", name, key)
		}
	}
	return nil
}

// Execute 同步执行工作流
func (e *Engine) Execute(ctx context.Context, name string, params protocol.Payload) (*WorkflowResult, error) {
	return e.ExecuteWithID(ctx, uuid.New().String(), name, params)
}

// ExecuteWithID 以指定 id 执行。只有工作流不存在或参数缺失时返回 error；
// 运行失败体现在 Status 与 Error 中
func (e *Engine) ExecuteWithID(ctx context.Context, id, name string, params protocol.Payload) (*WorkflowResult, error) {
	if err := e.Validate(name, params); err != nil {
		return nil, err
	}
	e.mu.RLock()
	w := e.workflows[name]
	e.mu.RUnlock()

	start := time.Now()
	ctx, span := tracing.StartWorkflowSpan(ctx, id, name)
	run := &Run{ID: id, x: e.x}
	result := &WorkflowResult{
		WorkflowID: id,
		Workflow:   name,
		Status:     RunRunning,
		Parameters: params.Clone(),
		StartedAt:  start.UTC(),
	}
	logger := e.logger.With("workflow", name, "workflow_id", id)
	logger.Info("工作流开始")

	err := e.invoke(ctx, w.fn, run, params)

	result.Steps = run.steps
	if result.Steps == nil {
		result.Steps = []StepResult{}
	}
	result.Synthesis = e.synth.Synthesize(result.Steps)
	result.Actions = []Action{}
	if run.action && err == nil {
		result.Actions = e.policy.Recommend(result.Synthesis)
	}
	if err == nil {
		if r, ok := requiredFailed(result.Steps); ok {
			err = fmt.Errorf("required step %s %s: %s", r.Name, r.Status, r.Error)
		}
	}

	result.Status = RunCompleted
	if err != nil {
		result.Status = RunFailed
		result.Error = err.Error()
		result.Actions = []Action{}
	}
	done := time.Now().UTC()
	result.CompletedAt = &done

	tracing.EndSpan(span, err)
	metrics.WorkflowTotal.WithLabelValues(name, string(result.Status)).Inc()
	metrics.WorkflowDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	logger.Info("工作流结束", "status", string(result.Status), "steps", len(result.Steps),
		"viability_score", result.Synthesis.ViabilityScore, "duration", time.Since(start).String())
	return result, nil
}

func (e *Engine) invoke(ctx context.Context, fn WorkflowFunc, run *Run, params protocol.Payload) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("workflow panic: %v", r)
		}
	}()
	return fn(ctx, run, params)
}

// CustomRequest 临时组合的 agent 调用；Agents 与 Tasks 一一对应
type CustomRequest struct {
	Agents         []string           `json:"agents"`
	Tasks          []protocol.Payload `json:"tasks"`
	Parallel       bool               `json:"parallel"`
	BreakOnFailure bool               `json:"break_on_failure"`
}

// CustomResult 临时组合的结果
type CustomResult struct {
	TaskResults []StepResult `json:"task_results"`
	Synthesis   *Synthesis   `json:"synthesis"`
	AgentsUsed  []string     `json:"agents_used"`
}

// Custom 同步执行临时组合。agent 名可为标识或别名，且必须有路由；
// 任务含 "task" 字段时以 Task 发送，否则为 Query
func (e *Engine) Custom(ctx context.Context, req CustomRequest) (*CustomResult, error) {
	if len(req.Agents) == 0 {
		return nil, pkgerrors.Wrap(pkgerrors.ErrInvalidArg, "agents is empty")
	}
	if len(req.Agents) != len(req.Tasks) {
		return nil, pkgerrors.Wrapf(pkgerrors.ErrInvalidArg, "agents (%d) and tasks (%d) must pair up", len(req.Agents), len(req.Tasks))
	}
	routable := make(map[protocol.AgentIdentity]bool)
	for _, id := range e.x.Endpoint().Router().Identities() {
		routable[id] = true
	}

	steps := make([]Step, len(req.Agents))
	for i, name := range req.Agents {
		id, err := protocol.ResolveIdentity(name)
		if err != nil || !routable[id] {
			return nil, pkgerrors.Wrapf(pkgerrors.ErrInvalidArg, "agent %s not available", name)
		}
		task := req.Tasks[i]
		kind := protocol.KindQuery
		if task.String("task") != "" {
			kind = protocol.KindTask
		}
		steps[i] = Step{
			Name:           fmt.Sprintf("%d:%s", i, id),
			Agent:          id,
			Kind:           kind,
			Payload:        task,
			BreakOnFailure: task.Bool("break_on_failure"),
		}
	}

	var results []StepResult
	if req.Parallel {
		results = e.x.Parallel(ctx, steps...)
	} else {
		results = e.x.Sequential(ctx, req.BreakOnFailure, steps...)
	}
	return &CustomResult{
		TaskResults: results,
		Synthesis:   e.synth.Synthesize(results),
		AgentsUsed:  append([]string(nil), req.Agents...),
	}, nil
}
