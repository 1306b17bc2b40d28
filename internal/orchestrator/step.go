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
	"time"

	"civic-mesh/internal/protocol"
)

// StepStatus 单个步骤的结局
type StepStatus string

const (
	StepSucceeded StepStatus = "succeeded"
	StepFailed    StepStatus = "failed"
	StepTimedOut  StepStatus = "timed_out"
	StepSkipped   StepStatus = "skipped"
)

// Step 工作流中对一个 agent 的一次请求
type Step struct {
	Name    string
	Agent   protocol.AgentIdentity
	Kind    protocol.MessageKind // 空为 Query
	Payload protocol.Payload
	Timeout time.Duration // <=0 使用 Execution 默认超时
	// Required 失败时整个工作流失败；顺序执行时同时中止后续步骤
	Required bool
	// BreakOnFailure 顺序执行时本步失败则跳过后续步骤
	BreakOnFailure bool
}

func (s Step) kind() protocol.MessageKind {
	if s.Kind == "" {
		return protocol.KindQuery
	}
	return s.Kind
}

func (s Step) name() string {
	if s.Name != "" {
		return s.Name
	}
	return string(s.Agent)
}

// StepResult 步骤结果；失败时 Payload 为 Error 回复的诊断信息（若有）
type StepResult struct {
	Name      string                 `json:"name"`
	Agent     protocol.AgentIdentity `json:"agent,omitempty"`
	Status    StepStatus             `json:"status"`
	Required  bool                   `json:"required,omitempty"`
	ReplyKind protocol.MessageKind   `json:"reply_kind,omitempty"`
	Payload   protocol.Payload       `json:"payload,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Duration  time.Duration          `json:"duration"`
}

// Succeeded 是否拿到了正常回复
func (r StepResult) Succeeded() bool { return r.Status == StepSucceeded }

// Failed 失败或超时；跳过不算失败
func (r StepResult) Failed() bool {
	return r.Status == StepFailed || r.Status == StepTimedOut
}

func (r StepResult) clone() StepResult {
	r.Payload = r.Payload.Clone()
	return r
}

func skipped(s Step) StepResult {
	return StepResult{
		Name:     s.name(),
		Agent:    s.Agent,
		Status:   StepSkipped,
		Required: s.Required,
		Error:    "skipped after an earlier step failed",
	}
}

// requiredFailed 是否有 Required 步骤失败
func requiredFailed(results []StepResult) (StepResult, bool) {
	for _, r := range results {
		if r.Required && r.Failed() {
			return r, true
		}
	}
	return StepResult{}, false
}
