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

package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-resty/resty/v2"
)

// OpenAIEmbedder OpenAI 兼容 /embeddings 客户端；不同模型标签可映射到不同模型
type OpenAIEmbedder struct {
	apiKey    string
	baseURL   string
	models    map[string]string // 标签 -> 模型名
	dimension int
	client    *resty.Client
}

// NewOpenAIEmbedder models 为空时所有标签使用 text-embedding-3-small
func NewOpenAIEmbedder(apiKey, baseURL string, models map[string]string, dimension int) *OpenAIEmbedder {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
		if envURL := os.Getenv("OPENAI_BASE_URL"); envURL != "" {
			baseURL = envURL
		}
	}
	if dimension <= 0 {
		dimension = 1536
	}
	m := map[string]string{TagGeneral: "text-embedding-3-small"}
	for k, v := range models {
		m[k] = v
	}

	client := resty.New()
	client.SetTimeout(30 * time.Second)
	// 指数退避重试，最多 3 次
	client.SetRetryCount(3)
	client.SetRetryWaitTime(500 * time.Millisecond)
	client.SetRetryMaxWaitTime(5 * time.Second)
	client.AddRetryCondition(func(r *resty.Response, err error) bool {
		return err != nil || r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= 500
	})

	return &OpenAIEmbedder{
		apiKey:    apiKey,
		baseURL:   baseURL,
		models:    m,
		dimension: dimension,
		client:    client,
	}
}

func (e *OpenAIEmbedder) Dimension() int { return e.dimension }

func (e *OpenAIEmbedder) model(tag string) string {
	if name, ok := e.models[normalizeTag(tag)]; ok {
		return name
	}
	return e.models[TagGeneral]
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text, modelTag string) ([]float64, error) {
	out, err := e.EmbedBatch(ctx, []string{text}, modelTag)
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch 一次请求完成整批向量化
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string, modelTag string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	input := make([]string, len(texts))
	for i, t := range texts {
		input[i] = Truncate(t, APIInputLimit)
	}
	request := map[string]any{
		"model":      e.model(modelTag),
		"input":      input,
		"dimensions": e.dimension,
	}
	response, err := e.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetAuthToken(e.apiKey).
		SetBody(request).
		Post(e.baseURL + "/embeddings")
	if err != nil {
		return nil, fmt.Errorf("调用 embedding API 失败: %w", err)
	}
	if response.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("embedding API 返回错误 %d: %s", response.StatusCode(), response.String())
	}

	var result struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(response.Body(), &result); err != nil {
		return nil, fmt.Errorf("解析 embedding 响应失败: %w", err)
	}
	if len(result.Data) != len(texts) {
		return nil, fmt.Errorf("embedding API 返回 %d 条结果，期望 %d", len(result.Data), len(texts))
	}
	out := make([][]float64, len(texts))
	for _, d := range result.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("embedding API 返回越界 index %d", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}
