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
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// EinoClient 通过 eino ChatModel 组件调用模型
type EinoClient struct {
	provider string
	model    string
	chat     model.BaseChatModel
}

// NewEinoClient 使用 eino-ext openai ChatModel（OpenAI 兼容端点）
func NewEinoClient(ctx context.Context, provider, modelName, apiKey, baseURL string) (*EinoClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("LLM provider %q api_key not configured", provider)
	}
	cm, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		Model:   modelName,
		APIKey:  apiKey,
		BaseURL: baseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("创建 OpenAI ChatModel 失败: %w", err)
	}
	return NewEinoClientWithModel(provider, modelName, cm), nil
}

// NewEinoClientWithModel 包装任意 eino ChatModel
func NewEinoClientWithModel(provider, modelName string, cm model.BaseChatModel) *EinoClient {
	if provider == "" {
		provider = "eino"
	}
	return &EinoClient{provider: provider, model: modelName, chat: cm}
}

func (c *EinoClient) Generate(ctx context.Context, prompt string, options GenerateOptions) (string, error) {
	return c.Chat(ctx, []Message{{Role: "user", Content: prompt}}, options)
}

func (c *EinoClient) Chat(ctx context.Context, messages []Message, options GenerateOptions) (string, error) {
	input := make([]*schema.Message, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			input = append(input, schema.SystemMessage(m.Content))
		case "assistant":
			input = append(input, schema.AssistantMessage(m.Content, nil))
		default:
			input = append(input, schema.UserMessage(m.Content))
		}
	}
	var opts []model.Option
	if options.Temperature > 0 {
		opts = append(opts, model.WithTemperature(float32(options.Temperature)))
	}
	if options.MaxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(options.MaxTokens))
	}
	if options.TopP > 0 {
		opts = append(opts, model.WithTopP(float32(options.TopP)))
	}
	if len(options.Stop) > 0 {
		opts = append(opts, model.WithStop(options.Stop))
	}
	out, err := c.chat.Generate(ctx, input, opts...)
	if err != nil {
		return "", fmt.Errorf("eino %s 生成失败: %w", c.provider, err)
	}
	if out == nil {
		return "", fmt.Errorf("eino %s 没有返回结果", c.provider)
	}
	return out.Content, nil
}

func (c *EinoClient) Model() string    { return c.model }
func (c *EinoClient) Provider() string { return c.provider }
