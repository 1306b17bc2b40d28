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
	"errors"
	"fmt"
	"time"

	"civic-mesh/internal/broker"
	"civic-mesh/internal/endpoint"
	"civic-mesh/internal/model"
	"civic-mesh/internal/model/embedding"
	"civic-mesh/internal/model/llm"
	"civic-mesh/internal/protocol"
	"civic-mesh/internal/storage/cache"
	"civic-mesh/internal/storage/vector"
	"civic-mesh/pkg/config"
	"civic-mesh/pkg/log"
	"civic-mesh/pkg/monitoring"
	"civic-mesh/pkg/secrets"
)

// DefaultInferenceCacheTTL 推理结果缓存时长
const DefaultInferenceCacheTTL = time.Hour

// Bootstrap 统一初始化：供 api 与 agent 进程复用，避免在 cmd 内写装配逻辑。
// 协作方（embedding、检索、推理）任一不可用时 agent 降级为本地分析
type Bootstrap struct {
	Config    *config.Config
	Logger    *log.Logger
	Cache     cache.Store
	Vector    vector.Store
	Embedder  embedding.Embedder
	Inference *llm.InferenceEngine // 未配置模型时为 nil
	Broker    protocol.Broker      // 未配置广播时为 nil
}

// NewBootstrap 根据配置创建日志、缓存、向量存储、模型与广播通道
func NewBootstrap(ctx context.Context, cfg *config.Config) (*Bootstrap, error) {
	if cfg == nil {
		cfg = &config.Config{}
	}
	logger, err := log.NewLogger(&log.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, File: cfg.Log.File})
	if err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}
	b := &Bootstrap{Config: cfg, Logger: logger}

	store, err := secrets.NewStore(cfg.Secrets)
	if err != nil {
		return nil, fmt.Errorf("初始化 secret 来源失败: %w", err)
	}
	if err := secrets.ResolveConfig(ctx, store, cfg); err != nil {
		return nil, fmt.Errorf("解析 secret 引用失败: %w", err)
	}

	if b.Cache, err = cache.NewCache(cfg.Storage.Cache); err != nil {
		return nil, fmt.Errorf("初始化缓存失败: %w", err)
	}
	if b.Vector, err = vector.NewStore(ctx, cfg.Storage.Vector); err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("初始化向量存储失败: %w", err)
	}
	if b.Embedder, err = model.NewEmbedder(cfg.Model, cfg.Storage.Vector.Dimension); err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("初始化 embedding 失败: %w", err)
	}

	client, err := model.NewLLM(ctx, cfg.Model, llm.NewRateLimiterFromConfig(cfg.RateLimits))
	if err != nil {
		// 模型配置错误不阻止启动，agent 以本地分析回复
		logger.Warn("LLM 初始化失败，将使用本地分析", "error", err)
	}
	if client != nil {
		ttl := config.ParseDuration(cfg.Storage.Cache.TTL, DefaultInferenceCacheTTL)
		b.Inference = llm.NewInferenceEngine(client, b.Cache, ttl, logger)
	}

	if b.Broker, err = broker.NewBroker(cfg.Broker, logger); err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("初始化广播通道失败: %w", err)
	}
	logger.Info("bootstrap 完成",
		"vector", nonEmpty(cfg.Storage.Vector.Type, "memory"),
		"cache", nonEmpty(cfg.Storage.Cache.Type, "memory"),
		"broker", nonEmpty(cfg.Broker.Type, "none"),
		"llm", b.Inference != nil,
	)
	return b, nil
}

// Collaborators agent 查询处理所需的下游
func (b *Bootstrap) Collaborators() endpoint.Collaborators {
	return endpoint.Collaborators{Embedder: b.Embedder, Store: b.Vector, Inference: b.Inference}
}

// AddProbes 把缓存与向量存储注册为健康探测
func (b *Bootstrap) AddProbes(r *monitoring.Reporter) {
	if b.Vector != nil {
		r.AddProbe("vector", b.Vector.Ping)
	}
	if b.Cache != nil {
		r.AddProbe("cache", func(ctx context.Context) error {
			_, err := b.Cache.Exists(ctx, "health")
			return err
		})
	}
}

// Close 释放连接，可重复调用
func (b *Bootstrap) Close() error {
	var errs []error
	if b.Broker != nil {
		errs = append(errs, b.Broker.Close())
		b.Broker = nil
	}
	if b.Vector != nil {
		errs = append(errs, b.Vector.Close())
		b.Vector = nil
	}
	if b.Cache != nil {
		errs = append(errs, b.Cache.Close())
		b.Cache = nil
	}
	return errors.Join(errs...)
}

func nonEmpty(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
