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

package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	hzapp "github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	hzconfig "github.com/cloudwego/hertz/pkg/common/config"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	hertzslog "github.com/hertz-contrib/logger/slog"
	"github.com/hertz-contrib/obs-opentelemetry/provider"
	hertztracing "github.com/hertz-contrib/obs-opentelemetry/tracing"

	"civic-mesh/pkg/config"
	"civic-mesh/pkg/log"
	"civic-mesh/pkg/tracing"
)

// ConfigureHertzLogger 使用 Hertz slog 扩展，与 log 配置对齐。
// 返回的 io.Closer 在日志写入文件时关闭文件，否则为空操作
func ConfigureHertzLogger(cfg config.LogConfig) (io.Closer, error) {
	var output io.Writer = os.Stdout
	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("打开日志文件失败: %w", err)
		}
		output, closer = f, f
	}
	levelVar := &slog.LevelVar{}
	switch cfg.Level {
	case "debug":
		levelVar.Set(slog.LevelDebug)
	case "warn":
		levelVar.Set(slog.LevelWarn)
	case "error":
		levelVar.Set(slog.LevelError)
	default:
		levelVar.Set(slog.LevelInfo)
	}
	hlog.SetLogger(hertzslog.NewLogger(
		hertzslog.WithOutput(output),
		hertzslog.WithLevel(levelVar),
	))
	return closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// ServerTracing Hertz 服务端链路追踪；未启用时为 nil，方法均可在 nil 上调用
type ServerTracing struct {
	shutdown func(context.Context) error
	option   hzconfig.Option
	cfg      *hertztracing.Config
}

// NewServerTracing tracing.enable 为 false 或没有导出地址时返回 nil。
// protocol=http 时由 pkg/tracing 创建 OTLP/HTTP TracerProvider，否则使用 obs-opentelemetry 的 OTLP/gRPC provider
func NewServerTracing(cfg config.TracingConfig, defaultService string, logger *log.Logger) *ServerTracing {
	if !cfg.Enable {
		return nil
	}
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = defaultService
	}
	exportEndpoint := cfg.ExportEndpoint
	if exportEndpoint == "" {
		exportEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}
	if exportEndpoint == "" {
		log.OrDefault(logger).Warn("已启用链路追踪但未配置导出地址，跳过", "service_name", serviceName)
		return nil
	}

	t := &ServerTracing{}
	switch cfg.Protocol {
	case "http":
		tp, err := tracing.InitTracer(tracing.OTelConfig{
			ServiceName:    serviceName,
			ExportEndpoint: exportEndpoint,
			Insecure:       cfg.Insecure,
		})
		if err != nil {
			log.OrDefault(logger).Warn("链路追踪初始化失败，跳过", "error", err)
			return nil
		}
		t.shutdown = tp.Shutdown
	default:
		opts := []provider.Option{
			provider.WithServiceName(serviceName),
			provider.WithExportEndpoint(exportEndpoint),
		}
		if cfg.Insecure {
			opts = append(opts, provider.WithInsecure())
		}
		t.shutdown = provider.NewOpenTelemetryProvider(opts...).Shutdown
	}
	t.option, t.cfg = hertztracing.NewServerTracer()
	log.OrDefault(logger).Info("链路追踪已启用", "service_name", serviceName, "endpoint", exportEndpoint, "protocol", nonEmpty(cfg.Protocol, "grpc"))
	return t
}

// ServerOptions Build 时追加的服务端选项
func (t *ServerTracing) ServerOptions() []hzconfig.Option {
	if t == nil {
		return nil
	}
	return []hzconfig.Option{t.option}
}

// Middleware 追踪中间件；未启用时为 nil
func (t *ServerTracing) Middleware() hzapp.HandlerFunc {
	if t == nil {
		return nil
	}
	return hertztracing.ServerMiddleware(t.cfg)
}

// Shutdown 刷新并关闭 provider
func (t *ServerTracing) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	return t.shutdown(ctx)
}

// ServerOptions 通用的 Hertz 服务端选项：请求读写超时
func ServerOptions(cfg config.APIConfig) []hzconfig.Option {
	var opts []hzconfig.Option
	if d := config.ParseDuration(cfg.Timeout, 0); d > 0 {
		opts = append(opts, server.WithReadTimeout(d), server.WithWriteTimeout(d))
	}
	opts = append(opts, server.WithExitWaitTime(2*time.Second))
	return opts
}

// ListenAddr host:port，port<=0 时使用 defaultPort
func ListenAddr(cfg config.APIConfig, defaultPort int) string {
	port := cfg.Port
	if port <= 0 {
		port = defaultPort
	}
	return fmt.Sprintf("%s:%d", cfg.Host, port)
}
