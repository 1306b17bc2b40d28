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

// Package protocol 智能体通信协议：消息信封、线格式编解码、请求/回复关联登记与投递路由。
package protocol

import (
	"fmt"
	"sort"
)

// AgentIdentity 参与者身份，封闭枚举；既是收发地址，也是路由与 handler 分派的键
type AgentIdentity string

const (
	LegislativePredictor   AgentIdentity = "legislative_predictor"
	ConstitutionalAnalyzer AgentIdentity = "constitutional_ai"
	CivicSentiment         AgentIdentity = "civic_sentiment"
	ARVisual               AgentIdentity = "ar_visual"
	ActionOptimizer        AgentIdentity = "action_optimizer"
	Orchestrator           AgentIdentity = "orchestrator"
)

var knownIdentities = map[AgentIdentity]struct{}{
	LegislativePredictor:   {},
	ConstitutionalAnalyzer: {},
	CivicSentiment:         {},
	ARVisual:               {},
	ActionOptimizer:        {},
	Orchestrator:           {},
}

// identityAliases 显式别名表（HTTP 入参、CLI 中的简写），不从标识字符串推导
var identityAliases = map[string]AgentIdentity{
	"legislative":    LegislativePredictor,
	"constitutional": ConstitutionalAnalyzer,
	"sentiment":      CivicSentiment,
	"visual":         ARVisual,
	"action":         ActionOptimizer,
}

// Valid 是否属于已知身份
func (a AgentIdentity) Valid() bool {
	_, ok := knownIdentities[a]
	return ok
}

func (a AgentIdentity) String() string { return string(a) }

// MarshalText 序列化为规范标签；未知值视为错误
func (a AgentIdentity) MarshalText() ([]byte, error) {
	if !a.Valid() {
		return nil, fmt.Errorf("unknown agent identity %q", string(a))
	}
	return []byte(a), nil
}

// UnmarshalText 解码规范标签，未知标签返回错误而不是默认值
func (a *AgentIdentity) UnmarshalText(b []byte) error {
	id, err := ParseIdentity(string(b))
	if err != nil {
		return err
	}
	*a = id
	return nil
}

// ParseIdentity 仅接受规范标签
func ParseIdentity(tag string) (AgentIdentity, error) {
	id := AgentIdentity(tag)
	if !id.Valid() {
		return "", fmt.Errorf("unknown agent identity %q", tag)
	}
	return id, nil
}

// ResolveIdentity 接受规范标签或别名
func ResolveIdentity(name string) (AgentIdentity, error) {
	if id, ok := identityAliases[name]; ok {
		return id, nil
	}
	return ParseIdentity(name)
}

// Identities 全部已知身份，按标签排序
func Identities() []AgentIdentity {
	out := make([]AgentIdentity, 0, len(knownIdentities))
	for id := range knownIdentities {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// MessageKind 消息类型，决定 handler 分派与是否期待回复
type MessageKind string

const (
	KindQuery     MessageKind = "query"
	KindResponse  MessageKind = "response"
	KindError     MessageKind = "error"
	KindBroadcast MessageKind = "broadcast"
	KindTask      MessageKind = "task"
	KindResult    MessageKind = "result"
)

// Valid 是否属于已知类型
func (k MessageKind) Valid() bool {
	switch k {
	case KindQuery, KindResponse, KindError, KindBroadcast, KindTask, KindResult:
		return true
	}
	return false
}

// IsRequest Query/Task 期待一个关联回复
func (k MessageKind) IsRequest() bool {
	return k == KindQuery || k == KindTask
}

// IsReply Response/Result/Error 必须携带 correlation id
func (k MessageKind) IsReply() bool {
	return k == KindResponse || k == KindResult || k == KindError
}

func (k MessageKind) String() string { return string(k) }

func (k MessageKind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("unknown message kind %q", string(k))
	}
	return []byte(k), nil
}

func (k *MessageKind) UnmarshalText(b []byte) error {
	kind, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = kind
	return nil
}

// ParseKind 仅接受规范标签
func ParseKind(tag string) (MessageKind, error) {
	k := MessageKind(tag)
	if !k.Valid() {
		return "", fmt.Errorf("unknown message kind %q", tag)
	}
	return k, nil
}
