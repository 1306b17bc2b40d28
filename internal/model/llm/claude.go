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
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// ClaudeClient Anthropic Messages API 客户端
type ClaudeClient struct {
	model   string
	apiKey  string
	baseURL string
	client  *resty.Client
}

// NewClaudeClient baseURL 为空时用 ANTHROPIC_BASE_URL 或官方地址
func NewClaudeClient(model, apiKey, baseURL string) (*ClaudeClient, error) {
	if model == "" {
		model = "claude-3-5-haiku-latest"
	}
	if baseURL == "" {
		baseURL = "https://api.anthropic.com/v1"
		if envURL := os.Getenv("ANTHROPIC_BASE_URL"); envURL != "" {
			baseURL = envURL
		}
	}

	client := resty.New()
	client.SetTimeout(60 * time.Second)
	client.SetRetryCount(3)
	client.SetRetryWaitTime(1 * time.Second)
	client.SetRetryMaxWaitTime(5 * time.Second)

	return &ClaudeClient{model: model, apiKey: apiKey, baseURL: baseURL, client: client}, nil
}

func (c *ClaudeClient) Generate(ctx context.Context, prompt string, options GenerateOptions) (string, error) {
	return c.Chat(ctx, []Message{{Role: "user", Content: prompt}}, options)
}

// Chat system 消息合并进顶层 system 字段，其余按原顺序发送
func (c *ClaudeClient) Chat(ctx context.Context, messages []Message, options GenerateOptions) (string, error) {
	var system []string
	turns := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == "system" {
			system = append(system, m.Content)
			continue
		}
		turns = append(turns, m)
	}
	maxTokens := options.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	request := map[string]any{
		"model":      c.model,
		"messages":   turns,
		"max_tokens": maxTokens,
	}
	if len(system) > 0 {
		request["system"] = strings.Join(system, "\n\n")
	}
	if options.Temperature > 0 {
		request["temperature"] = options.Temperature
	}
	if len(options.Stop) > 0 {
		request["stop_sequences"] = options.Stop
	}

	response, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("x-api-key", c.apiKey).
		SetHeader("anthropic-version", "2023-06-01").
		SetBody(request).
		Post(c.baseURL + "/messages")
	if err != nil {
		return "", fmt.Errorf("调用 Claude API 失败: %w", err)
	}
	if response.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("Claude API 返回错误 %d: %s", response.StatusCode(), response.String())
	}

	var result struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(response.Body(), &result); err != nil {
		return "", fmt.Errorf("解析 Claude 响应失败: %w", err)
	}
	var sb strings.Builder
	for _, block := range result.Content {
		if block.Type == "" || block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("Claude API 没有返回结果")
	}
	return sb.String(), nil
}

func (c *ClaudeClient) Model() string    { return c.model }
func (c *ClaudeClient) Provider() string { return "claude" }
