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

package llm

import (
	"context"
	"time"

	"civic-mesh/pkg/metrics"
)

// RateLimitedClient 包装任意 Client，在真实调用前执行限流
type RateLimitedClient struct {
	inner   Client
	limiter *RateLimiter
}

// NewRateLimitedClient limiter 为 nil 时退化为直接调用
func NewRateLimitedClient(inner Client, limiter *RateLimiter) *RateLimitedClient {
	return &RateLimitedClient{inner: inner, limiter: limiter}
}

func (c *RateLimitedClient) Generate(ctx context.Context, prompt string, options GenerateOptions) (string, error) {
	release, err := c.acquire(ctx, prompt, options.MaxTokens)
	if err != nil {
		return "", err
	}
	defer release()
	return c.inner.Generate(ctx, prompt, options)
}

func (c *RateLimitedClient) Chat(ctx context.Context, messages []Message, options GenerateOptions) (string, error) {
	release, err := c.acquire(ctx, messagesText(messages), options.MaxTokens)
	if err != nil {
		return "", err
	}
	defer release()
	return c.inner.Chat(ctx, messages, options)
}

func (c *RateLimitedClient) Model() string    { return c.inner.Model() }
func (c *RateLimitedClient) Provider() string { return c.inner.Provider() }

func (c *RateLimitedClient) acquire(ctx context.Context, text string, maxTokens int) (func(), error) {
	if c.limiter == nil {
		return func() {}, nil
	}
	provider := c.inner.Provider()
	start := time.Now()
	release, err := c.limiter.Acquire(ctx, provider, estimateTokens(text, maxTokens))
	if err != nil {
		return nil, err
	}
	if waited := time.Since(start); waited > 100*time.Millisecond {
		metrics.RateLimitWaitSeconds.WithLabelValues("llm", provider).Observe(waited.Seconds())
	}
	return release, nil
}

// estimateTokens 粗略估算（4 字符约 1 token）
func estimateTokens(text string, maxTokens int) int {
	estimated := len(text) / 4
	if maxTokens > 0 {
		estimated += maxTokens
	}
	if estimated < 1 {
		estimated = 1
	}
	return estimated
}

func messagesText(msgs []Message) string {
	n := 0
	for _, m := range msgs {
		n += len(m.Content)
	}
	buf := make([]byte, 0, n)
	for _, m := range msgs {
		buf = append(buf, m.Content...)
	}
	return string(buf)
}
