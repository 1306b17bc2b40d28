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

// Package agent 独立 agent 进程：以 HTTP 托管单个 agent 身份
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/cloudwego/hertz/pkg/app/server"

	apigrpc "civic-mesh/internal/api/grpc"
	"civic-mesh/internal/api/http"
	"civic-mesh/internal/api/http/middleware"
	"civic-mesh/internal/app"
	"civic-mesh/internal/protocol"
	"civic-mesh/pkg/monitoring"
)

// 各 agent 的默认端口
var defaultPorts = map[protocol.AgentIdentity]int{
	protocol.LegislativePredictor:   8001,
	protocol.ConstitutionalAnalyzer: 8002,
	protocol.CivicSentiment:         8003,
	protocol.ARVisual:               8004,
	protocol.ActionOptimizer:        8005,
}

// App 单 agent 进程
type App struct {
	bootstrap *app.Bootstrap
	identity  protocol.AgentIdentity
	mesh      *app.Mesh
	reporter  *monitoring.Reporter
	router    *http.Router

	hertz    *server.Hertz
	grpc     *apigrpc.Runner
	tracing  *app.ServerTracing
	hertzLog io.Closer
}

// NewApp 托管 agents.identity；agents.remote 中的地址用于该 agent 主动发起的请求
func NewApp(ctx context.Context, b *app.Bootstrap) (*App, error) {
	cfg := b.Config
	if cfg.Agents.Identity == "" {
		return nil, errors.New("agents.identity is required")
	}
	id, err := protocol.ResolveIdentity(cfg.Agents.Identity)
	if err != nil {
		return nil, fmt.Errorf("agents.identity: %w", err)
	}
	if id == protocol.Orchestrator {
		return nil, errors.New("orchestrator runs in the api process")
	}

	mesh, err := app.NewMesh(ctx, b, []protocol.AgentIdentity{id})
	if err != nil {
		return nil, fmt.Errorf("初始化 agent 路由失败: %w", err)
	}
	reporter := monitoring.NewReporter(string(id), mesh, nil)
	b.AddProbes(reporter)

	handler := http.NewHandler(nil, mesh.Hub)
	handler.SetHealthReporter(reporter)
	handler.SetServiceName(string(id))

	router := http.NewRouter(handler, middleware.NewMiddleware().
		WithRateLimit(cfg.API.RateLimit.RPS, cfg.API.RateLimit.Burst))
	router.SetAgentOnly(true)
	tracing := app.NewServerTracing(cfg.Monitoring.Tracing, string(id), b.Logger)
	router.Use(tracing.Middleware())

	b.Logger.Info("agent 进程就绪", "agent", string(id))
	return &App{
		bootstrap: b,
		identity:  id,
		mesh:      mesh,
		reporter:  reporter,
		router:    router,
		tracing:   tracing,
	}, nil
}

// Identity 托管的 agent 身份
func (a *App) Identity() protocol.AgentIdentity { return a.identity }

// Addr 监听地址，未配置端口时按身份取默认端口
func (a *App) Addr() string {
	return app.ListenAddr(a.bootstrap.Config.API, defaultPorts[a.identity])
}

// Build 创建 Hertz 实例但不监听
func (a *App) Build(addr string) *server.Hertz {
	opts := append(app.ServerOptions(a.bootstrap.Config.API), a.tracing.ServerOptions()...)
	a.hertz = a.router.Build(addr, opts...)
	return a.hertz
}

// Run 启动 HTTP 服务（阻塞）
func (a *App) Run() error {
	cfg := a.bootstrap.Config
	closer, err := app.ConfigureHertzLogger(cfg.Log)
	if err != nil {
		return err
	}
	a.hertzLog = closer

	if cfg.API.Grpc.Enable && cfg.API.Grpc.Port > 0 {
		g, err := apigrpc.Start(cfg.API.Grpc.Port, apigrpc.NewHealthServer(a.reporter, string(a.identity), a.bootstrap.Logger))
		if err != nil {
			a.bootstrap.Logger.Warn("gRPC 健康检查服务启动失败", "error", err)
		} else {
			a.grpc = g
		}
	}
	addr := a.Addr()
	a.bootstrap.Logger.Info("agent 服务启动", "agent", string(a.identity), "addr", addr)
	return a.Build(addr).Run()
}

// Shutdown 停止接入并等待在途投递
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	if a.grpc != nil {
		a.grpc.GracefulStop()
	}
	if a.hertz != nil {
		errs = append(errs, a.hertz.Shutdown(ctx))
	}
	errs = append(errs, a.mesh.Close(), a.tracing.Shutdown(ctx), a.bootstrap.Close())
	if a.hertzLog != nil {
		errs = append(errs, a.hertzLog.Close())
	}
	return errors.Join(errs...)
}
