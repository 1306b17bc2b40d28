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
	"errors"
	"fmt"
)

var (
	// ErrValidation 消息构造或解码时结构不合法
	ErrValidation = errors.New("invalid envelope")
	// ErrUnreachable 收件方没有可用的投递路由
	ErrUnreachable = errors.New("agent unreachable")
	// ErrTimeout await 在超时内未收到关联回复
	ErrTimeout = errors.New("request timed out")
	// ErrUnmatchedResponse 回复的 correlation id 没有对应的待决请求（迟到或重复）
	ErrUnmatchedResponse = errors.New("unmatched or late response")
	// ErrDuplicateRequest 同一 request id 重复登记
	ErrDuplicateRequest = errors.New("duplicate request id")
	// ErrNotPending await 的 id 没有待决请求
	ErrNotPending = errors.New("no pending request")
	// ErrBroadcastAwait 广播或非请求类消息不产生可等待的回复
	ErrBroadcastAwait = errors.New("message does not expect a reply")
	// ErrDeliveryFailed 投递层失败（网络、对端非 2xx），区别于超时
	ErrDeliveryFailed = errors.New("delivery failed")
)

// ValidationError 描述具体哪个字段不合法
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid envelope: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// RoutingError 收件方无路由
type RoutingError struct {
	Recipient AgentIdentity
}

func (e *RoutingError) Error() string {
	return fmt.Sprintf("no route to agent %q", string(e.Recipient))
}

func (e *RoutingError) Unwrap() error { return ErrUnreachable }

// DeliveryError 投递失败，Err 为底层原因
type DeliveryError struct {
	Recipient AgentIdentity
	Err       error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver to %s: %v", string(e.Recipient), e.Err)
}

func (e *DeliveryError) Unwrap() []error { return []error{ErrDeliveryFailed, e.Err} }
