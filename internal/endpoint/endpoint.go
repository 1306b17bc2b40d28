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

// Package endpoint 具名 agent 参与方：发送请求、等待回复、按消息类型分发处理入站消息。
package endpoint

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"civic-mesh/internal/protocol"
	"civic-mesh/pkg/log"
	"civic-mesh/pkg/metrics"
	"civic-mesh/pkg/tracing"
)

// DefaultTimeout Await 未指定超时时使用
const DefaultTimeout = 30 * time.Second

// Handler 处理一类入站请求，返回唯一的回复
type Handler interface {
	Handle(ctx context.Context, msg *protocol.Envelope, self *Endpoint) (*protocol.Envelope, error)
}

// HandlerFunc 函数适配 Handler
type HandlerFunc func(ctx context.Context, msg *protocol.Envelope, self *Endpoint) (*protocol.Envelope, error)

func (f HandlerFunc) Handle(ctx context.Context, msg *protocol.Envelope, self *Endpoint) (*protocol.Envelope, error) {
	return f(ctx, msg, self)
}

// Option 构造选项
type Option func(*Endpoint)

// WithDefaultTimeout 设置 Await 的默认超时
func WithDefaultTimeout(d time.Duration) Option {
	return func(e *Endpoint) {
		if d > 0 {
			e.defaultTimeout = d
		}
	}
}

// Endpoint 一个 agent 身份在本进程内的收发端点
type Endpoint struct {
	identity protocol.AgentIdentity
	router   *protocol.Router
	registry *protocol.Registry
	logger   *log.Logger

	mu       sync.RWMutex
	handlers map[protocol.MessageKind]Handler

	// inflight 已发出、尚未被 Await 取走的请求槽位
	inflight       sync.Map
	deliveries     sync.WaitGroup
	defaultTimeout time.Duration
}

// New 创建端点；router 决定出站消息的投递通道
func New(identity protocol.AgentIdentity, router *protocol.Router, logger *log.Logger, opts ...Option) (*Endpoint, error) {
	if !identity.Valid() {
		return nil, &protocol.ValidationError{Field: "identity", Reason: fmt.Sprintf("unknown agent %q", identity)}
	}
	if router == nil {
		router = protocol.NewRouter(nil, logger)
	}
	e := &Endpoint{
		identity:       identity,
		router:         router,
		registry:       protocol.NewRegistry(),
		logger:         log.OrDefault(logger).With("agent", string(identity)),
		handlers:       make(map[protocol.MessageKind]Handler),
		defaultTimeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Identity 端点身份
func (e *Endpoint) Identity() protocol.AgentIdentity { return e.identity }

// Router 出站路由
func (e *Endpoint) Router() *protocol.Router { return e.router }

// Pending 尚未结算的出站请求数
func (e *Endpoint) Pending() int { return e.registry.Pending() }

// Handle 为 kind 注册处理器，重复注册时替换
func (e *Endpoint) Handle(kind protocol.MessageKind, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[kind] = h
}

func (e *Endpoint) handler(kind protocol.MessageKind) Handler {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.handlers[kind]
}

// Send 发出一条消息。只有校验与路由错误同步返回；
// 请求类消息在投递前登记槽位，投递失败以 DeliveryError 结算
func (e *Endpoint) Send(ctx context.Context, env *protocol.Envelope) error {
	if env == nil {
		return &protocol.ValidationError{Field: "envelope", Reason: "is nil"}
	}
	if err := env.Validate(); err != nil {
		return err
	}
	if env.IsBroadcast() {
		if err := e.router.Broadcast(ctx, env); err != nil {
			e.logger.Warn("广播投递失败", "message_id", env.ID, "error", err)
		}
		return nil
	}

	recipient := env.Recipient()
	transport, err := e.router.Lookup(recipient)
	if err != nil {
		metrics.AgentErrors.WithLabelValues(string(recipient), "unreachable").Inc()
		return err
	}

	if env.Kind.IsRequest() {
		slot, err := e.registry.Register(env.ID)
		if err != nil {
			return err
		}
		e.inflight.Store(env.ID, &inflightRequest{slot: slot, recipient: recipient, sentAt: time.Now()})
		metrics.AgentRequests.WithLabelValues(string(recipient), string(env.Kind)).Inc()
		metrics.AgentConcurrentRequests.WithLabelValues(string(recipient)).Inc()
	}

	e.deliveries.Add(1)
	go e.deliver(context.WithoutCancel(ctx), transport, env.Clone())
	return nil
}

type inflightRequest struct {
	slot      *protocol.Slot
	recipient protocol.AgentIdentity
	sentAt    time.Time
}

func (e *Endpoint) deliver(ctx context.Context, t protocol.Transport, env *protocol.Envelope) {
	defer e.deliveries.Done()
	ctx, span := tracing.StartSendSpan(ctx, env.ID, string(env.Sender), string(env.Kind), len(env.Recipients))
	reply, err := t.Deliver(ctx, env)
	tracing.EndSpan(span, err)

	recipient := env.Recipient()
	if err != nil {
		metrics.AgentErrors.WithLabelValues(string(recipient), "delivery").Inc()
		e.logger.Warn("消息投递失败", "message_id", env.ID, "recipient", string(recipient), "error", err)
		if env.Kind.IsRequest() {
			e.registry.Fail(env.ID, &protocol.DeliveryError{Recipient: recipient, Err: err})
		}
		return
	}
	if reply == nil {
		return
	}
	if _, err := e.Receive(ctx, reply); err != nil {
		e.logger.Warn("同步回复无效，已丢弃", "message_id", env.ID, "error", err)
	}
}

// Await 等待 env 的回复。超时返回 ErrTimeout，与 Error 类回复区分；
// 广播或非请求消息返回 ErrBroadcastAwait
func (e *Endpoint) Await(ctx context.Context, env *protocol.Envelope, timeout time.Duration) (*protocol.Envelope, error) {
	if env == nil {
		return nil, &protocol.ValidationError{Field: "envelope", Reason: "is nil"}
	}
	if env.IsBroadcast() || !env.Kind.IsRequest() {
		return nil, fmt.Errorf("%w: message %s (%s, %d recipients)",
			protocol.ErrBroadcastAwait, env.ID, env.Kind, len(env.Recipients))
	}
	v, ok := e.inflight.LoadAndDelete(env.ID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", protocol.ErrNotPending, env.ID)
	}
	req := v.(*inflightRequest)
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}

	reply, err := req.slot.Wait(ctx, timeout)

	agent := string(req.recipient)
	metrics.AgentConcurrentRequests.WithLabelValues(agent).Dec()
	metrics.AgentResponseTime.WithLabelValues(agent).Observe(time.Since(req.sentAt).Seconds())
	switch {
	case err == nil:
		if reply.Kind == protocol.KindError {
			metrics.AgentErrors.WithLabelValues(agent, "handler_fault").Inc()
		}
	case errors.Is(err, protocol.ErrTimeout):
		metrics.AgentErrors.WithLabelValues(agent, "timeout").Inc()
		e.logger.Warn("等待回复超时", "message_id", env.ID, "recipient", agent, "timeout", timeout.String())
	}
	return reply, err
}

// Request Send 后 Await
func (e *Endpoint) Request(ctx context.Context, env *protocol.Envelope, timeout time.Duration) (*protocol.Envelope, error) {
	if err := e.Send(ctx, env); err != nil {
		return nil, err
	}
	return e.Await(ctx, env, timeout)
}

// Receive 处理一条入站消息，返回需要回给发送方的消息（可能为 nil）。
// 回复类消息只用于结算本端的请求，不再分发
func (e *Endpoint) Receive(ctx context.Context, env *protocol.Envelope) (*protocol.Envelope, error) {
	if env == nil {
		return nil, &protocol.ValidationError{Field: "envelope", Reason: "is nil"}
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}

	if env.Kind.IsReply() {
		if err := e.registry.Resolve(env.CorrelationID, env); err != nil {
			metrics.LateResponsesTotal.WithLabelValues(string(env.Sender)).Inc()
			e.logger.Info("丢弃迟到或无匹配的回复",
				"message_id", env.ID, "correlation_id", env.CorrelationID, "sender", string(env.Sender))
		}
		return nil, nil
	}

	h := e.handler(env.Kind)
	if h == nil {
		if env.ExpectsReply() {
			return protocol.NewAck(env, e.identity)
		}
		return nil, nil
	}

	reply, err := e.invoke(ctx, h, env)
	if !env.ExpectsReply() {
		if err != nil {
			e.logger.Warn("处理广播消息失败", "message_id", env.ID, "kind", string(env.Kind), "error", err)
		}
		return nil, nil
	}
	if err != nil {
		metrics.AgentErrors.WithLabelValues(string(e.identity), "handler_fault").Inc()
		e.logger.Warn("handler 执行失败，返回 Error 回复", "message_id", env.ID, "kind", string(env.Kind), "error", err)
		return protocol.NewErrorReply(env, e.identity, err)
	}
	if reply == nil {
		return protocol.NewAck(env, e.identity)
	}
	if err := checkReply(env, reply); err != nil {
		metrics.AgentErrors.WithLabelValues(string(e.identity), "handler_fault").Inc()
		e.logger.Warn("handler 返回的回复不合法", "message_id", env.ID, "error", err)
		return protocol.NewErrorReply(env, e.identity, err)
	}
	return reply, nil
}

func (e *Endpoint) invoke(ctx context.Context, h Handler, env *protocol.Envelope) (reply *protocol.Envelope, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("handler panic", "message_id", env.ID, "panic", r, "stack", string(debug.Stack()))
			reply, err = nil, fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.Handle(ctx, env, e)
}

// checkReply 回复必须是回复类消息，只发给原发送方，并关联原请求
func checkReply(in, reply *protocol.Envelope) error {
	if err := reply.Validate(); err != nil {
		return fmt.Errorf("malformed reply: %w", err)
	}
	if !reply.Kind.IsReply() {
		return fmt.Errorf("malformed reply: kind %s is not a reply kind", reply.Kind)
	}
	if reply.CorrelationID != in.ID {
		return fmt.Errorf("malformed reply: correlation_id %s does not match request %s", reply.CorrelationID, in.ID)
	}
	if len(reply.Recipients) != 1 || reply.Recipients[0] != in.Sender {
		return fmt.Errorf("malformed reply: recipients must be exactly [%s]", in.Sender)
	}
	return nil
}

// Listen 订阅发往本端的广播；没有 Broker 时返回空操作
func (e *Endpoint) Listen(ctx context.Context) (func(), error) {
	b := e.router.Broker()
	if b == nil {
		return func() {}, nil
	}
	return b.Subscribe(ctx, e.identity, func(ctx context.Context, env *protocol.Envelope) {
		if _, err := e.Receive(ctx, env); err != nil {
			e.logger.Warn("广播消息无效", "message_id", env.ID, "error", err)
		}
	})
}

// Close 等待进行中的投递结束
func (e *Endpoint) Close() error {
	e.deliveries.Wait()
	return nil
}
