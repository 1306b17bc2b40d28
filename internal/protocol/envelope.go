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
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultPriority 未指定时的优先级；仅作元数据，不影响投递顺序
const DefaultPriority = 1

// Envelope 智能体之间传递的唯一消息单元。构造后视为不可变：
// NewEnvelope 会复制 Payload/Context，持有方不应再修改字段
type Envelope struct {
	ID            string
	Sender        AgentIdentity
	Recipients    []AgentIdentity
	Kind          MessageKind
	Payload       Payload
	Context       Payload
	CorrelationID string
	Timestamp     time.Time
	Priority      int
}

// Option 构造选项
type Option func(*Envelope)

// WithContext 附加上下文
func WithContext(ctx Payload) Option {
	return func(e *Envelope) { e.Context = ctx.Clone() }
}

// WithCorrelation 指定所回复的请求 id
func WithCorrelation(id string) Option {
	return func(e *Envelope) { e.CorrelationID = id }
}

// WithPriority 指定优先级
func WithPriority(p int) Option {
	return func(e *Envelope) { e.Priority = p }
}

// WithTimestamp 指定创建时间（统一转为 UTC）
func WithTimestamp(t time.Time) Option {
	return func(e *Envelope) {
		if !t.IsZero() {
			e.Timestamp = t.UTC()
		}
	}
}

// WithID 指定消息 id，默认生成 UUID
func WithID(id string) Option {
	return func(e *Envelope) { e.ID = id }
}

// NewEnvelope 构造并校验消息
func NewEnvelope(sender AgentIdentity, recipients []AgentIdentity, kind MessageKind, payload Payload, opts ...Option) (*Envelope, error) {
	e := &Envelope{
		ID:         uuid.New().String(),
		Sender:     sender,
		Recipients: append([]AgentIdentity(nil), recipients...),
		Kind:       kind,
		Payload:    payload.Clone(),
		Timestamp:  time.Now().UTC(),
		Priority:   DefaultPriority,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.Payload == nil {
		e.Payload = Payload{}
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// Validate 检查结构约束
func (e *Envelope) Validate() error {
	if e.ID == "" {
		return &ValidationError{Field: "message_id", Reason: "is empty"}
	}
	if !e.Sender.Valid() {
		return &ValidationError{Field: "sender", Reason: fmt.Sprintf("unknown identity %q", string(e.Sender))}
	}
	if len(e.Recipients) == 0 {
		return &ValidationError{Field: "recipients", Reason: "must not be empty"}
	}
	for _, r := range e.Recipients {
		if !r.Valid() {
			return &ValidationError{Field: "recipients", Reason: fmt.Sprintf("unknown identity %q", string(r))}
		}
	}
	if !e.Kind.Valid() {
		return &ValidationError{Field: "message_type", Reason: fmt.Sprintf("unknown kind %q", string(e.Kind))}
	}
	if e.Kind.IsReply() && e.CorrelationID == "" {
		return &ValidationError{Field: "correlation_id", Reason: "is required for " + string(e.Kind)}
	}
	if e.Kind.IsRequest() && e.CorrelationID != "" {
		return &ValidationError{Field: "correlation_id", Reason: "must be empty for " + string(e.Kind)}
	}
	return nil
}

// IsBroadcast 多于一个收件方
func (e *Envelope) IsBroadcast() bool {
	return len(e.Recipients) > 1
}

// ExpectsReply 单收件方的请求类消息
func (e *Envelope) ExpectsReply() bool {
	return e.Kind.IsRequest() && !e.IsBroadcast()
}

// Recipient 首个收件方
func (e *Envelope) Recipient() AgentIdentity {
	if len(e.Recipients) == 0 {
		return ""
	}
	return e.Recipients[0]
}

// Clone 深拷贝
func (e *Envelope) Clone() *Envelope {
	c := *e
	c.Recipients = append([]AgentIdentity(nil), e.Recipients...)
	c.Payload = e.Payload.Clone()
	c.Context = e.Context.Clone()
	return &c
}

// NewReply 对 in 的回复：收件方为原发送方，correlation 为原消息 id，沿用原上下文
func NewReply(in *Envelope, sender AgentIdentity, kind MessageKind, payload Payload) (*Envelope, error) {
	return NewEnvelope(sender, []AgentIdentity{in.Sender}, kind, payload,
		WithCorrelation(in.ID), WithContext(in.Context), WithPriority(in.Priority))
}

// NewErrorReply Error 类回复，payload 携带诊断信息
func NewErrorReply(in *Envelope, sender AgentIdentity, cause error) (*Envelope, error) {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	return NewReply(in, sender, KindError, Payload{
		"error":        msg,
		"agent":        string(sender),
		"request_kind": string(in.Kind),
	})
}

// NewAck 没有注册 handler 时的默认确认
func NewAck(in *Envelope, sender AgentIdentity) (*Envelope, error) {
	return NewReply(in, sender, KindResponse, Payload{
		"status": "received",
		"agent":  string(sender),
	})
}
