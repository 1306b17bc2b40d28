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

// Package api 装配编排进程：agent 路由、工作流引擎、HTTP 与 gRPC 健康检查
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cloudwego/hertz/pkg/app/server"

	apigrpc "civic-mesh/internal/api/grpc"
	"civic-mesh/internal/api/http"
	"civic-mesh/internal/api/http/middleware"
	"civic-mesh/internal/app"
	"civic-mesh/internal/endpoint"
	"civic-mesh/internal/orchestrator"
	"civic-mesh/internal/protocol"
	"civic-mesh/pkg/config"
	"civic-mesh/pkg/monitoring"
)

// ServiceName 健康报告与链路追踪的默认服务名
const ServiceName = "civic-mesh"

// DefaultPort 未配置 api.port 时的监听端口
const DefaultPort = 8000

// App 编排 API 应用
type App struct {
	bootstrap    *app.Bootstrap
	mesh         *app.Mesh
	store        orchestrator.RunStore
	orchestrator *orchestrator.Orchestrator
	reporter     *monitoring.Reporter
	router       *http.Router

	hertz    *server.Hertz
	grpc     *apigrpc.Runner
	tracing  *app.ServerTracing
	hertzLog io.Closer
}

// NewApp 创建编排应用（由 cmd/api 调用）。本进程托管 orchestrator 与 agents.local，
// 其余 agent 经 agents.remote 的 HTTP 地址投递
func NewApp(ctx context.Context, b *app.Bootstrap) (*App, error) {
	cfg := b.Config
	hosted, err := app.HostedIdentities(cfg.Agents.Local)
	if err != nil {
		return nil, fmt.Errorf("agents.local: %w", err)
	}
	hosted = append([]protocol.AgentIdentity{protocol.Orchestrator}, hosted...)

	mesh, err := app.NewMesh(ctx, b, hosted)
	if err != nil {
		return nil, fmt.Errorf("初始化 agent 路由失败: %w", err)
	}
	orchEP, _ := mesh.Endpoint(protocol.Orchestrator)

	store, err := orchestrator.NewRunStore(ctx, cfg.Orchestrator.RunStore, b.Cache)
	if err != nil {
		_ = mesh.Close()
		return nil, fmt.Errorf("初始化工作流结果存储失败: %w", err)
	}

	requestTimeout := config.ParseDuration(cfg.Protocol.RequestTimeout, endpoint.DefaultTimeout)
	engine := orchestrator.NewEngine(
		orchestrator.NewExecution(orchEP, requestTimeout, b.Logger),
		b.Logger,
		orchestrator.WithActionPolicy(orchestrator.NewThresholdActionPolicy(cfg.Orchestrator.ViabilityCutoff)),
	)
	orchestrator.RegisterBuiltins(engine, orchestrator.TopicSource{Embedder: b.Embedder, Store: b.Vector}, b.Logger)
	svc := orchestrator.NewOrchestrator(engine, store, orchestrator.ServiceConfig{
		MaxConcurrency: cfg.Orchestrator.MaxConcurrency,
		RunTimeout:     config.ParseDuration(cfg.Orchestrator.RunTimeout, orchestrator.DefaultRunTimeout),
	}, b.Logger)

	reporter := monitoring.NewReporter(ServiceName, mesh, svc)
	b.AddProbes(reporter)

	handler := http.NewHandler(svc, mesh.Hub)
	handler.SetHealthReporter(reporter)
	handler.SetArtifactStore(b.Embedder, b.Vector)
	handler.SetServiceName(ServiceName)

	mw := middleware.NewMiddleware(cfg.API.CORS.AllowOrigins...).
		WithRateLimit(cfg.API.RateLimit.RPS, cfg.API.RateLimit.Burst)
	router := http.NewRouter(handler, mw)
	router.SetCORS(cfg.API.CORS.Enable)
	if cfg.API.Auth.Enable && cfg.API.Auth.JWTKey != "" {
		jwtAuth, err := middleware.NewJWTAuth([]byte(cfg.API.Auth.JWTKey), cfg.API.Auth.Users,
			config.ParseDuration(cfg.API.Auth.JWTTimeout, time.Hour),
			config.ParseDuration(cfg.API.Auth.JWTMaxRefresh, time.Hour))
		if err != nil {
			b.Logger.Warn("JWT 初始化失败，将跳过认证", "error", err)
		} else {
			router.SetJWT(jwtAuth)
			b.Logger.Info("JWT 认证已启用", "users", len(cfg.API.Auth.Users))
		}
	}
	tracing := app.NewServerTracing(cfg.Monitoring.Tracing, ServiceName, b.Logger)
	router.Use(tracing.Middleware())

	b.Logger.Info("编排服务就绪", "workflows", engine.Names(), "hosted", len(hosted))
	return &App{
		bootstrap:    b,
		mesh:         mesh,
		store:        store,
		orchestrator: svc,
		reporter:     reporter,
		router:       router,
		tracing:      tracing,
	}, nil
}

// Orchestrator 工作流服务
func (a *App) Orchestrator() *orchestrator.Orchestrator { return a.orchestrator }

// Reporter 健康报告
func (a *App) Reporter() *monitoring.Reporter { return a.reporter }

// Build 创建 Hertz 实例但不监听（测试与 Run 共用）
func (a *App) Build(addr string) *server.Hertz {
	opts := append(app.ServerOptions(a.bootstrap.Config.API), a.tracing.ServerOptions()...)
	a.hertz = a.router.Build(addr, opts...)
	return a.hertz
}

// Run 启动 HTTP 服务（阻塞），以及可选的 gRPC 健康检查服务
func (a *App) Run(addr string) error {
	cfg := a.bootstrap.Config
	closer, err := app.ConfigureHertzLogger(cfg.Log)
	if err != nil {
		return err
	}
	a.hertzLog = closer

	if cfg.API.Grpc.Enable && cfg.API.Grpc.Port > 0 {
		hs := apigrpc.NewHealthServer(a.reporter, ServiceName, a.bootstrap.Logger)
		g, err := apigrpc.Start(cfg.API.Grpc.Port, hs)
		if err != nil {
			a.bootstrap.Logger.Warn("gRPC 健康检查服务启动失败", "error", err)
		} else {
			a.grpc = g
			a.bootstrap.Logger.Info("gRPC 健康检查服务已启动", "port", cfg.API.Grpc.Port)
		}
	}

	a.bootstrap.Logger.Info("API 服务启动", "addr", addr)
	return a.Build(addr).Run()
}

// Shutdown 依次停止接入、等待后台工作流、关闭路由与存储（传入 ctx 以支持超时）
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	if a.grpc != nil {
		a.grpc.GracefulStop()
	}
	if a.hertz != nil {
		errs = append(errs, a.hertz.Shutdown(ctx))
	}
	errs = append(errs,
		a.orchestrator.Shutdown(ctx),
		a.mesh.Close(),
		a.store.Close(),
		a.tracing.Shutdown(ctx),
		a.bootstrap.Close(),
	)
	if a.hertzLog != nil {
		errs = append(errs, a.hertzLog.Close())
	}
	return errors.Join(errs...)
}
