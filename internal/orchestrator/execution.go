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
	"time"

	"civic-mesh/internal/endpoint"
	"civic-mesh/internal/protocol"
	"civic-mesh/pkg/log"
	"civic-mesh/pkg/tracing"
)

// Execution 通过编排端点向 agent 发请求，把回复整理为 StepResult
type Execution struct {
	ep             *endpoint.Endpoint
	defaultTimeout time.Duration
	logger         *log.Logger
}

// NewExecution ep 为编排方自身的端点；defaultTimeout<=0 使用 endpoint.DefaultTimeout
func NewExecution(ep *endpoint.Endpoint, defaultTimeout time.Duration, logger *log.Logger) *Execution {
	if defaultTimeout <= 0 {
		defaultTimeout = endpoint.DefaultTimeout
	}
	return &Execution{ep: ep, defaultTimeout: defaultTimeout, logger: log.OrDefault(logger)}
}

// Endpoint 编排端点
func (x *Execution) Endpoint() *endpoint.Endpoint { return x.ep }

type sentStep struct {
	step    Step
	env     *protocol.Envelope
	start   time.Time
	settled *StepResult // 发送阶段已失败（校验或路由）
}

// Parallel 先发出全部请求再并发等待，结果按声明顺序返回。单步失败不影响其它步骤
func (x *Execution) Parallel(ctx context.Context, steps ...Step) []StepResult {
	sent := make([]sentStep, len(steps))
	for i, s := range steps {
		sent[i] = x.send(ctx, s)
	}

	results := make([]StepResult, len(steps))
	var wg sync.WaitGroup
	for i := range sent {
		if sent[i].settled != nil {
			results[i] = *sent[i].settled
			continue
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = x.await(ctx, sent[i])
		}(i)
	}
	wg.Wait()
	return results
}

// Sequential 逐个请求。breakOnFailure、步骤自身的 BreakOnFailure 或 Required
// 任一成立时，失败后其余步骤标记为 skipped
func (x *Execution) Sequential(ctx context.Context, breakOnFailure bool, steps ...Step) []StepResult {
	results := make([]StepResult, 0, len(steps))
	for i, s := range steps {
		r := x.Run(ctx, s)
		results = append(results, r)
		if r.Failed() && (breakOnFailure || s.BreakOnFailure || s.Required) {
			x.logger.Info("顺序执行中止", "step", r.Name, "status", string(r.Status))
			for _, rest := range steps[i+1:] {
				results = append(results, skipped(rest))
			}
			break
		}
	}
	return results
}

// Run 执行单个步骤
func (x *Execution) Run(ctx context.Context, s Step) StepResult {
	sent := x.send(ctx, s)
	if sent.settled != nil {
		return *sent.settled
	}
	return x.await(ctx, sent)
}

func (x *Execution) send(ctx context.Context, s Step) sentStep {
	out := sentStep{step: s, start: time.Now()}
	env, err := protocol.NewEnvelope(x.ep.Identity(), []protocol.AgentIdentity{s.Agent}, s.kind(), s.Payload)
	if err == nil {
		err = x.ep.Send(ctx, env)
	}
	if err != nil {
		r := x.failure(s, out.start, err)
		out.settled = &r
		return out
	}
	out.env = env
	return out
}

func (x *Execution) await(ctx context.Context, sent sentStep) StepResult {
	s := sent.step
	ctx, span := tracing.StartStepSpan(ctx, s.name(), string(s.Agent))
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = x.defaultTimeout
	}
	reply, err := x.ep.Await(ctx, sent.env, timeout)
	if err != nil {
		tracing.EndSpan(span, err)
		return x.failure(s, sent.start, err)
	}

	r := StepResult{
		Name:      s.name(),
		Agent:     s.Agent,
		Status:    StepSucceeded,
		Required:  s.Required,
		ReplyKind: reply.Kind,
		Payload:   reply.Payload.Clone(),
		Duration:  time.Since(sent.start),
	}
	if reply.Kind == protocol.KindError {
		r.Status = StepFailed
		r.Error = reply.Payload.String("error")
		if r.Error == "" {
			r.Error = "agent returned an error reply"
		}
		tracing.EndSpan(span, errors.New(r.Error))
		return r
	}
	tracing.EndSpan(span, nil)
	return r
}

func (x *Execution) failure(s Step, start time.Time, err error) StepResult {
	status := StepFailed
	if errors.Is(err, protocol.ErrTimeout) {
		status = StepTimedOut
	}
	x.logger.Warn("步骤未完成", "step", s.name(), "agent", string(s.Agent), "status", string(status), "error", err)
	return StepResult{
		Name:     s.name(),
		Agent:    s.Agent,
		Status:   status,
		Required: s.Required,
		Error:    err.Error(),
		Duration: time.Since(start),
	}
}
