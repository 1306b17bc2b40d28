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
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// HashEmbedder 本地确定性向量化（特征哈希 + L2 归一化），未配置 embedding provider 时使用。
// 相同文本与标签总是得到相同向量，词汇重叠越多余弦相似度越高
type HashEmbedder struct {
	dimension int
}

// NewHashEmbedder dimension<=0 时为 384
func NewHashEmbedder(dimension int) *HashEmbedder {
	if dimension <= 0 {
		dimension = 384
	}
	return &HashEmbedder{dimension: dimension}
}

func (e *HashEmbedder) Dimension() int { return e.dimension }

func (e *HashEmbedder) Embed(_ context.Context, text, modelTag string) ([]float64, error) {
	return e.embed(text, normalizeTag(modelTag)), nil
}

func (e *HashEmbedder) EmbedBatch(ctx context.Context, texts []string, modelTag string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = e.embed(t, normalizeTag(modelTag))
	}
	return out, nil
}

func (e *HashEmbedder) embed(text, tag string) []float64 {
	vec := make([]float64, e.dimension)
	tokens := strings.FieldsFunc(strings.ToLower(Truncate(text, LocalInputLimit)), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, tok := range tokens {
		h := fnv.New64a()
		_, _ = h.Write([]byte(tag))
		_, _ = h.Write([]byte{0})
		_, _ = h.Write([]byte(tok))
		sum := h.Sum64()
		idx := int(sum % uint64(e.dimension))
		if sum&(1<<63) != 0 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}
	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}
