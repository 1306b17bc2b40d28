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

// Package model 根据配置构建推理与向量化客户端。
package model

import (
	"context"
	"fmt"
	"strings"

	"civic-mesh/internal/model/embedding"
	"civic-mesh/internal/model/llm"
	"civic-mesh/pkg/config"
)

// NewLLM 按 model.defaults.llm（provider.model_key）创建客户端，并包上限流。
// 未配置默认模型时返回 nil, nil，调用方应降级为本地分析
func NewLLM(ctx context.Context, cfg config.ModelConfig, limiter *llm.RateLimiter) (llm.Client, error) {
	if cfg.Defaults.LLM == "" {
		return nil, nil
	}
	provider, modelKey, err := ParseDefaultKey(cfg.Defaults.LLM)
	if err != nil {
		return nil, err
	}
	pc, ok := cfg.LLM.Providers[provider]
	if !ok {
		return nil, fmt.Errorf("LLM provider %q not configured", provider)
	}
	mi, ok := pc.Models[modelKey]
	if !ok {
		return nil, fmt.Errorf("LLM model %q not configured in provider %q", modelKey, provider)
	}
	if pc.APIKey == "" {
		return nil, fmt.Errorf("LLM provider %q api_key not configured", provider)
	}
	client, err := llm.NewClient(ctx, provider, mi.Name, pc.APIKey, pc.BaseURL, pc.Client)
	if err != nil {
		return nil, err
	}
	if limiter == nil {
		return client, nil
	}
	return llm.NewRateLimitedClient(client, limiter), nil
}

// NewEmbedder 按 model.defaults.embedding 创建；未配置时使用本地哈希向量化，维度取 fallbackDim
func NewEmbedder(cfg config.ModelConfig, fallbackDim int) (embedding.Embedder, error) {
	if cfg.Defaults.Embedding == "" {
		return embedding.NewHashEmbedder(fallbackDim), nil
	}
	provider, modelKey, err := ParseDefaultKey(cfg.Defaults.Embedding)
	if err != nil {
		return nil, err
	}
	pc, ok := cfg.Embedding.Providers[provider]
	if !ok {
		return nil, fmt.Errorf("embedding provider %q not configured", provider)
	}
	mi, ok := pc.Models[modelKey]
	if !ok {
		return nil, fmt.Errorf("embedding model %q not configured in provider %q", modelKey, provider)
	}
	// 同一 provider 下以模型 key 作为标签（legal / general / multilingual）
	tags := make(map[string]string, len(pc.Models))
	for key, m := range pc.Models {
		tags[key] = m.Name
	}
	tags[embedding.TagGeneral] = mi.Name
	dim := mi.Dimension
	if dim <= 0 {
		dim = fallbackDim
	}
	return embedding.NewOpenAIEmbedder(pc.APIKey, pc.BaseURL, tags, dim), nil
}

// ParseDefaultKey 解析 provider.model_key
func ParseDefaultKey(key string) (provider, modelKey string, err error) {
	parts := strings.SplitN(key, ".", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("default key 格式应为 provider.model_key，如 openai.gpt_4o_mini，当前: %q", key)
	}
	return parts[0], parts[1], nil
}
