package embedding

import (
	"context"
)

// 模型标签：选择 embedding 模型的用途类别，未知标签按 general 处理
const (
	TagLegal        = "legal"
	TagGeneral      = "general"
	TagMultilingual = "multilingual"
)

// 输入截断上限（字符数）
const (
	LocalInputLimit = 10000
	APIInputLimit   = 8192
)

// Embedder 文本向量化接口
type Embedder interface {
	// Embed 单条文本向量化
	Embed(ctx context.Context, text, modelTag string) ([]float64, error)
	// EmbedBatch 与 texts 一一对应
	EmbedBatch(ctx context.Context, texts []string, modelTag string) ([][]float64, error)
	// Dimension 输出维度
	Dimension() int
}

// Truncate 按字符（rune）截断
func Truncate(text string, limit int) string {
	if limit <= 0 {
		return text
	}
	n := 0
	for i := range text {
		if n == limit {
			return text[:i]
		}
		n++
	}
	return text
}

func normalizeTag(tag string) string {
	switch tag {
	case TagLegal, TagMultilingual:
		return tag
	}
	return TagGeneral
}
