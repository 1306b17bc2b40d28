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
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-resty/resty/v2"
)

// OpenAIClient OpenAI 兼容 Chat Completions 客户端（OpenAI、Qwen/DashScope、DeepSeek 等）
type OpenAIClient struct {
	provider string
	model    string
	apiKey   string
	baseURL  string
	client   *resty.Client
}

// NewOpenAIClient baseURL 为空时用 OPENAI_BASE_URL 或官方地址
func NewOpenAIClient(provider, model, apiKey, baseURL string) (*OpenAIClient, error) {
	if provider == "" {
		provider = "openai"
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
		if envURL := os.Getenv("OPENAI_BASE_URL"); envURL != "" {
			baseURL = envURL
		}
	}

	client := resty.New()
	client.SetTimeout(60 * time.Second)
	client.SetRetryCount(3)
	client.SetRetryWaitTime(1 * time.Second)
	client.SetRetryMaxWaitTime(5 * time.Second)
	client.AddRetryCondition(func(r *resty.Response, err error) bool {
		return err != nil || r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= 500
	})

	return &OpenAIClient{
		provider: provider,
		model:    model,
		apiKey:   apiKey,
		baseURL:  baseURL,
		client:   client,
	}, nil
}

// Generate 以单条 user 消息调用 Chat
func (c *OpenAIClient) Generate(ctx context.Context, prompt string, options GenerateOptions) (string, error) {
	return c.Chat(ctx, []Message{{Role: "user", Content: prompt}}, options)
}

// Chat 调用 /chat/completions
func (c *OpenAIClient) Chat(ctx context.Context, messages []Message, options GenerateOptions) (string, error) {
	request := map[string]any{
		"model":    c.model,
		"messages": messages,
	}
	if options.Temperature > 0 {
		request["temperature"] = options.Temperature
	}
	if options.MaxTokens > 0 {
		request["max_tokens"] = options.MaxTokens
	}
	if options.TopP > 0 {
		request["top_p"] = options.TopP
	}
	if len(options.Stop) > 0 {
		request["stop"] = options.Stop
	}

	response, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetAuthToken(c.apiKey).
		SetBody(request).
		Post(c.baseURL + "/chat/completions")
	if err != nil {
		return "", fmt.Errorf("调用 %s API 失败: %w", c.provider, err)
	}
	if response.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("%s API 返回错误 %d: %s", c.provider, response.StatusCode(), response.String())
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(response.Body(), &result); err != nil {
		return "", fmt.Errorf("解析 %s 响应失败: %w", c.provider, err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("%s API 没有返回结果", c.provider)
	}
	return result.Choices[0].Message.Content, nil
}

func (c *OpenAIClient) Model() string    { return c.model }
func (c *OpenAIClient) Provider() string { return c.provider }
