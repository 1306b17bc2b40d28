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

// Package grpc 提供 gRPC 健康检查服务，状态与 /api/health 同源。
package grpc

import (
	"context"
	"fmt"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"civic-mesh/pkg/log"
	"civic-mesh/pkg/monitoring"
)

// DefaultSyncInterval 健康状态刷新间隔
const DefaultSyncInterval = 10 * time.Second

// Reporter 健康报告来源（monitoring.Reporter）
type Reporter interface {
	Report(ctx context.Context) *monitoring.HealthReport
}

// HealthServer 把 monitoring 报告映射为 grpc.health.v1 状态。
// 空服务名表示进程存活，始终 SERVING；具名服务在报告 degraded 时为 NOT_SERVING
type HealthServer struct {
	health   *health.Server
	reporter Reporter
	service  string
	interval time.Duration
	logger   *log.Logger
}

// NewHealthServer service 为对外暴露的服务名，如 civic-mesh
func NewHealthServer(reporter Reporter, service string, logger *log.Logger) *HealthServer {
	s := &HealthServer{
		health:   health.NewServer(),
		reporter: reporter,
		service:  service,
		interval: DefaultSyncInterval,
		logger:   log.OrDefault(logger),
	}
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(service, healthpb.HealthCheckResponse_UNKNOWN)
	return s
}

// WithInterval 设置刷新间隔
func (s *HealthServer) WithInterval(d time.Duration) *HealthServer {
	if d > 0 {
		s.interval = d
	}
	return s
}

// Register 注册到 grpc.Server
func (s *HealthServer) Register(g *grpc.Server) {
	healthpb.RegisterHealthServer(g, s.health)
}

// Sync 立即生成一次报告并更新具名服务状态
func (s *HealthServer) Sync(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if rep := s.reporter.Report(ctx); rep != nil && rep.Status == monitoring.StatusOK {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(s.service, status)
	return status
}

// Run 周期刷新直到 ctx 结束
func (s *HealthServer) Run(ctx context.Context) {
	s.Sync(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if st := s.Sync(ctx); st != healthpb.HealthCheckResponse_SERVING {
				s.logger.Warn("健康检查未通过", "service", s.service, "status", st.String())
			}
		}
	}
}

// Shutdown 所有服务置为 NOT_SERVING，之后的 SetServingStatus 被忽略
func (s *HealthServer) Shutdown() {
	s.health.Shutdown()
}

// Check 供进程内查询
func (s *HealthServer) Check(ctx context.Context, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := s.health.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}

// Runner 持有 gRPC Server 与 Listener
type Runner struct {
	srv    *grpc.Server
	lis    net.Listener
	health *HealthServer
	cancel context.CancelFunc
}

// Start 监听 port 并在后台 Serve，同时启动健康状态刷新
func Start(port int, hs *HealthServer) (*Runner, error) {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, err
	}
	srv := grpc.NewServer()
	hs.Register(srv)
	ctx, cancel := context.WithCancel(context.Background())
	go hs.Run(ctx)
	go func() {
		if err := srv.Serve(lis); err != nil {
			hs.logger.Warn("gRPC 服务退出", "error", err)
		}
	}()
	return &Runner{srv: srv, lis: lis, health: hs, cancel: cancel}, nil
}

// Addr 实际监听地址
func (r *Runner) Addr() net.Addr { return r.lis.Addr() }

// GracefulStop 先置为 NOT_SERVING 再停止
func (r *Runner) GracefulStop() {
	r.cancel()
	r.health.Shutdown()
	r.srv.GracefulStop()
}
