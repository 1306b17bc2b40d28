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
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"civic-mesh/pkg/config"
)

// LimitConfig 单个 provider 的限流配置
type LimitConfig struct {
	TokensPerMinute   int
	RequestsPerMinute float64
	MaxConcurrent     int
}

// DefaultLimit 未单独配置的 provider 使用
var DefaultLimit = LimitConfig{
	TokensPerMinute:   90000,
	RequestsPerMinute: 3500,
	MaxConcurrent:     50,
}

// RateLimiter 按 provider 维度的请求数、token 预算与并发限制
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*providerLimiter
	defaults LimitConfig
}

type providerLimiter struct {
	requests  *rate.Limiter
	tokens    *rate.Limiter
	semaphore chan struct{}
	config    LimitConfig
}

// NewRateLimiter configs 为 provider -> 配置
func NewRateLimiter(configs map[string]LimitConfig, defaults *LimitConfig) *RateLimiter {
	l := &RateLimiter{
		limiters: make(map[string]*providerLimiter),
		defaults: DefaultLimit,
	}
	if defaults != nil {
		l.defaults = *defaults
	}
	for provider, c := range configs {
		l.limiters[provider] = newProviderLimiter(c)
	}
	return l
}

// NewRateLimiterFromConfig 从 rate_limits.llm 配置创建
func NewRateLimiterFromConfig(cfg config.RateLimitsConfig) *RateLimiter {
	configs := make(map[string]LimitConfig, len(cfg.LLM))
	for provider, c := range cfg.LLM {
		configs[provider] = LimitConfig{
			TokensPerMinute:   c.TokensPerMinute,
			RequestsPerMinute: c.RequestsPerMinute,
			MaxConcurrent:     c.MaxConcurrent,
		}
	}
	return NewRateLimiter(configs, nil)
}

func newProviderLimiter(c LimitConfig) *providerLimiter {
	pl := &providerLimiter{config: c}
	// burst 为 2 秒的配额
	if c.RequestsPerMinute > 0 {
		burst := int(c.RequestsPerMinute / 30)
		if burst < 1 {
			burst = 1
		}
		pl.requests = rate.NewLimiter(rate.Limit(c.RequestsPerMinute/60), burst)
	}
	if c.TokensPerMinute > 0 {
		burst := c.TokensPerMinute / 30
		if burst < 1 {
			burst = 1
		}
		pl.tokens = rate.NewLimiter(rate.Limit(float64(c.TokensPerMinute)/60), burst)
	}
	if c.MaxConcurrent > 0 {
		pl.semaphore = make(chan struct{}, c.MaxConcurrent)
	}
	return pl
}

func (l *RateLimiter) get(provider string) *providerLimiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	pl, ok := l.limiters[provider]
	if !ok {
		pl = newProviderLimiter(l.defaults)
		l.limiters[provider] = pl
	}
	return pl
}

// Acquire 阻塞直到获得执行许可，返回的 release 必须在调用结束后执行
func (l *RateLimiter) Acquire(ctx context.Context, provider string, estimatedTokens int) (release func(), err error) {
	pl := l.get(provider)
	if pl.requests != nil {
		if err := pl.requests.Wait(ctx); err != nil {
			return nil, fmt.Errorf("request rate limit wait failed: %w", err)
		}
	}
	if pl.tokens != nil && estimatedTokens > 0 {
		// 超过 burst 的请求按 burst 预扣，避免 WaitN 直接报错
		n := estimatedTokens
		if b := pl.tokens.Burst(); n > b {
			n = b
		}
		if err := pl.tokens.WaitN(ctx, n); err != nil {
			return nil, fmt.Errorf("token budget wait failed: %w", err)
		}
	}
	if pl.semaphore == nil {
		return func() {}, nil
	}
	select {
	case pl.semaphore <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	var once sync.Once
	return func() { once.Do(func() { <-pl.semaphore }) }, nil
}

// Stats 当前 provider 的限流状态，供健康报告使用
func (l *RateLimiter) Stats(provider string) map[string]any {
	pl := l.get(provider)
	stats := map[string]any{
		"requests_per_minute": pl.config.RequestsPerMinute,
		"tokens_per_minute":   pl.config.TokensPerMinute,
		"max_concurrent":      pl.config.MaxConcurrent,
	}
	if pl.semaphore != nil {
		stats["current_concurrent"] = len(pl.semaphore)
	}
	return stats
}
