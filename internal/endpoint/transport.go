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

package endpoint

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"civic-mesh/internal/protocol"
)

// MessagePath agent 进程接收消息的 HTTP 路径
const MessagePath = "/agent/message"

// LocalTransport 同进程投递：直接交给目标端点处理
type LocalTransport struct {
	target *Endpoint
}

// NewLocalTransport 投递到 target
func NewLocalTransport(target *Endpoint) *LocalTransport {
	return &LocalTransport{target: target}
}

func (t *LocalTransport) Deliver(ctx context.Context, env *protocol.Envelope) (*protocol.Envelope, error) {
	return t.target.Receive(ctx, env.Clone())
}

// HTTPTransport 以 JSON POST 投递到远端 agent 的 /agent/message，响应体为同步回复
type HTTPTransport struct {
	baseURL string
	client  *resty.Client
}

// NewHTTPTransport baseURL 形如 http://legislative-predictor:8001
func NewHTTPTransport(baseURL string, timeout time.Duration) *HTTPTransport {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return retryable(err)
		})
	return &HTTPTransport{baseURL: strings.TrimSuffix(baseURL, "/"), client: client}
}

// retryable 只重试建连失败；读超时等错误时对端可能已处理过请求，重发会重复执行
func retryable(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

// URL 投递地址
func (t *HTTPTransport) URL() string { return t.baseURL + MessagePath }

func (t *HTTPTransport) Deliver(ctx context.Context, env *protocol.Envelope) (*protocol.Envelope, error) {
	body, err := protocol.Encode(env)
	if err != nil {
		return nil, err
	}
	resp, err := t.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post(t.URL())
	if err != nil {
		return nil, fmt.Errorf("POST %s: %w", t.URL(), err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("POST %s: status %d: %s", t.URL(), resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	raw := bytes.TrimSpace(resp.Body())
	if resp.StatusCode() == http.StatusNoContent || len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	return protocol.Decode(raw)
}
