package llm

import (
	"context"
	"fmt"
)

// Client LLM 客户端接口
type Client interface {
	// Generate 单轮生成
	Generate(ctx context.Context, prompt string, options GenerateOptions) (string, error)
	// Chat 多轮对话
	Chat(ctx context.Context, messages []Message, options GenerateOptions) (string, error)
	Model() string
	Provider() string
}

// GenerateOptions 生成选项
type GenerateOptions struct {
	Temperature float64  `json:"temperature"`
	MaxTokens   int      `json:"max_tokens"`
	TopP        float64  `json:"top_p"`
	Stop        []string `json:"stop,omitempty"`
}

// Message 聊天消息
type Message struct {
	Role    string `json:"role"` // system, user, assistant
	Content string `json:"content"`
}

// NewClient 按 provider 与客户端实现创建 LLM 客户端。
// clientKind 为 "eino" 时经由 eino ChatModel 调用 OpenAI 兼容端点，其余走 REST 实现
func NewClient(ctx context.Context, provider, model, apiKey, baseURL, clientKind string) (Client, error) {
	if clientKind == "eino" {
		return NewEinoClient(ctx, provider, model, apiKey, baseURL)
	}
	switch provider {
	case "claude", "anthropic":
		return NewClaudeClient(model, apiKey, baseURL)
	case "openai", "qwen", "deepseek", "":
		return NewOpenAIClient(provider, model, apiKey, baseURL)
	default:
		// 其余 provider 按 OpenAI 兼容协议处理，需显式 base_url
		if baseURL == "" {
			return nil, fmt.Errorf("LLM provider %q 需要配置 base_url", provider)
		}
		return NewOpenAIClient(provider, model, apiKey, baseURL)
	}
}
