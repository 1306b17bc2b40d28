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

package http

import (
	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/middlewares/server/recovery"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/config"

	"civic-mesh/internal/api/http/middleware"
	"civic-mesh/internal/endpoint"
)

// Router HTTP 路由器
type Router struct {
	handler    *Handler
	middleware *middleware.Middleware
	agentOnly  bool
	enableCORS bool
	jwt        *middleware.JWTAuth
	extra      []app.HandlerFunc
}

// NewRouter 创建路由器
func NewRouter(handler *Handler, mw *middleware.Middleware) *Router {
	if mw == nil {
		mw = middleware.NewMiddleware()
	}
	return &Router{handler: handler, middleware: mw}
}

// SetAgentOnly 独立 agent 进程只暴露 /agent/message、/api/health 与 /metrics
func (r *Router) SetAgentOnly(v bool) { r.agentOnly = v }

// SetCORS 启用 CORS
func (r *Router) SetCORS(v bool) { r.enableCORS = v }

// SetJWT 启用认证后 /api/orchestrate 与 /api/artifacts 需要 Bearer token
func (r *Router) SetJWT(auth *middleware.JWTAuth) { r.jwt = auth }

// Use 追加全局中间件（在路由注册前生效），nil 忽略
func (r *Router) Use(handlers ...app.HandlerFunc) {
	for _, h := range handlers {
		if h != nil {
			r.extra = append(r.extra, h)
		}
	}
}

// Build 创建 Hertz 实例并注册路由；opts 用于注入 tracer 等服务端选项
func (r *Router) Build(addr string, opts ...config.Option) *server.Hertz {
	opts = append([]config.Option{server.WithHostPorts(addr)}, opts...)
	h := server.New(opts...)
	h.Use(recovery.Recovery(), middleware.AccessLog())
	if len(r.extra) > 0 {
		h.Use(r.extra...)
	}
	// 全局挂载：预检请求没有匹配路由，只经过全局中间件
	if r.enableCORS {
		h.Use(r.middleware.CORS())
	}

	h.GET("/metrics", r.handler.Metrics)
	h.POST(endpoint.MessagePath, r.middleware.RateLimit(), r.handler.AgentMessage)

	api := h.Group("/api")
	api.GET("/health", r.handler.HealthCheck)
	if r.agentOnly {
		return h
	}

	guarded := []app.HandlerFunc{r.middleware.RateLimit()}
	if r.jwt != nil {
		auth := api.Group("/auth")
		auth.POST("/login", r.jwt.LoginHandler())
		auth.POST("/refresh", r.jwt.RefreshHandler())
		guarded = append(guarded, r.jwt.Middleware())
	}

	orchestrate := api.Group("/orchestrate", guarded...)
	{
		orchestrate.POST("/workflow/:name", r.handler.StartWorkflow)
		orchestrate.GET("/status/:id", r.handler.WorkflowStatus)
		orchestrate.POST("/custom", r.handler.CustomOrchestration)
	}

	artifacts := api.Group("/artifacts", guarded...)
	{
		artifacts.POST("", r.handler.StoreArtifact)
		artifacts.POST("/clauses", r.handler.StoreClause)
		artifacts.PUT("/:id/constitutionality", r.handler.UpdateConstitutionality)
	}
	return h
}
