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
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Slot 一个待决请求的结果槽位，只会被结算一次
type Slot struct {
	id   string
	reg  *Registry
	once sync.Once
	done chan struct{}

	reply *Envelope
	err   error
}

// ID 对应的请求 id
func (s *Slot) ID() string { return s.id }

// Done 结算后关闭
func (s *Slot) Done() <-chan struct{} { return s.done }

func (s *Slot) settle(reply *Envelope, err error) {
	s.once.Do(func() {
		s.reply, s.err = reply, err
		close(s.done)
	})
}

// Wait 等待回复。超时或 ctx 取消时尝试从登记表摘除槽位：
// 摘除成功则以超时结算；失败说明 resolver 已抢先摘除，等待其写入的结果
func (s *Slot) Wait(ctx context.Context, timeout time.Duration) (*Envelope, error) {
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}
	select {
	case <-s.done:
	case <-timer:
		s.expire(fmt.Errorf("%w: request %s after %s", ErrTimeout, s.id, timeout))
	case <-ctx.Done():
		s.expire(ctx.Err())
	}
	<-s.done
	return s.reply, s.err
}

func (s *Slot) expire(cause error) {
	if s.reg.slots.CompareAndDelete(s.id, s) {
		s.reg.pending.Add(-1)
		s.settle(nil, cause)
	}
}

// Registry 请求 id -> 结果槽位。同一 id 只有 fulfilled / failed / timed out 之一会被观察到
type Registry struct {
	slots   sync.Map
	pending atomic.Int64
}

// NewRegistry 创建空登记表
func NewRegistry() *Registry {
	return &Registry{}
}

// Register 为即将发出的请求登记槽位；必须在消息发出之前调用
func (r *Registry) Register(id string) (*Slot, error) {
	if id == "" {
		return nil, &ValidationError{Field: "message_id", Reason: "is empty"}
	}
	s := &Slot{id: id, reg: r, done: make(chan struct{})}
	if _, loaded := r.slots.LoadOrStore(id, s); loaded {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateRequest, id)
	}
	r.pending.Add(1)
	return s, nil
}

// Resolve 以回复结算 correlationID 对应的槽位；槽位不存在或已结算返回 ErrUnmatchedResponse
func (r *Registry) Resolve(correlationID string, reply *Envelope) error {
	s, ok := r.take(correlationID)
	if !ok {
		return fmt.Errorf("%w: correlation_id %s", ErrUnmatchedResponse, correlationID)
	}
	s.settle(reply, nil)
	return nil
}

// Fail 以错误结算槽位（投递失败），返回是否命中
func (r *Registry) Fail(id string, err error) bool {
	s, ok := r.take(id)
	if !ok {
		return false
	}
	s.settle(nil, err)
	return true
}

// Await 等待仍在登记表中的请求；已结算或未登记的 id 返回 ErrNotPending。
// 需要在结算后仍能取到结果时应持有 Register 返回的 Slot
func (r *Registry) Await(ctx context.Context, id string, timeout time.Duration) (*Envelope, error) {
	v, ok := r.slots.Load(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotPending, id)
	}
	return v.(*Slot).Wait(ctx, timeout)
}

// Pending 当前待决请求数
func (r *Registry) Pending() int {
	return int(r.pending.Load())
}

func (r *Registry) take(id string) (*Slot, bool) {
	v, ok := r.slots.LoadAndDelete(id)
	if !ok {
		return nil, false
	}
	r.pending.Add(-1)
	return v.(*Slot), true
}
