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

package middleware

import (
	"context"
	"strings"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"golang.org/x/time/rate"
)

// Middleware 中间件管理器
type Middleware struct {
	allowOrigins []string
	limiter      *rate.Limiter
}

// NewMiddleware allowOrigins 为空时允许任意来源
func NewMiddleware(allowOrigins ...string) *Middleware {
	return &Middleware{allowOrigins: allowOrigins}
}

// WithRateLimit 全局请求限流；rps<=0 不限流
func (m *Middleware) WithRateLimit(rps float64, burst int) *Middleware {
	if rps <= 0 {
		m.limiter = nil
		return m
	}
	if burst < 1 {
		burst = 1
	}
	m.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	return m
}

// CORS CORS 中间件
func (m *Middleware) CORS() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		origin := string(c.GetHeader("Origin"))
		if allowed := m.allowedOrigin(origin); allowed != "" {
			c.Header("Access-Control-Allow-Origin", allowed)
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization")
			c.Header("Access-Control-Max-Age", "86400")
		}
		if string(c.Method()) == consts.MethodOptions {
			c.AbortWithStatus(consts.StatusNoContent)
			return
		}
		c.Next(ctx)
	}
}

func (m *Middleware) allowedOrigin(origin string) string {
	if len(m.allowOrigins) == 0 {
		return "*"
	}
	for _, o := range m.allowOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return origin
		}
	}
	return ""
}

// RateLimit 超出配额返回 429
func (m *Middleware) RateLimit() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		if m.limiter != nil && !m.limiter.Allow() {
			c.AbortWithStatusJSON(consts.StatusTooManyRequests, map[string]string{
				"error": "请求过于频繁，请稍后再试",
			})
			return
		}
		c.Next(ctx)
	}
}
