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
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"civic-mesh/internal/storage/cache"
	"civic-mesh/pkg/log"
	"civic-mesh/pkg/metrics"
)

// 提示模板标签；未知标签回落到 legislative
const (
	TemplateLegislative    = "legislative"
	TemplateConstitutional = "constitutional"
	TemplateSentiment      = "sentiment"
)

var promptTemplates = map[string]func(query string) string{
	TemplateLegislative:    legislativePrompt,
	TemplateConstitutional: constitutionalPrompt,
	TemplateSentiment:      sentimentPrompt,
}

var responseMarkers = []string{"ANALYSIS:", "ASSISTANT:", "RESPONSE:"}

var jsonObjectPattern = regexp.MustCompile(`(?s)\{.*\}`)

// InferenceResult 一次推理的输出
type InferenceResult struct {
	Text       string         `json:"text"`
	Structured map[string]any `json:"structured"`
	Cached     bool           `json:"cached"`
	Agent      string         `json:"agent"`
	PromptHash string         `json:"prompt_hash"`
}

// InferenceEngine 按 agent 模板组织提示词、缓存响应并解析结构化结果
type InferenceEngine struct {
	client   Client
	cache    cache.Store
	cacheTTL time.Duration
	defaults GenerateOptions
	logger   *log.Logger
}

// NewInferenceEngine store 为 nil 时不缓存
func NewInferenceEngine(client Client, store cache.Store, cacheTTL time.Duration, logger *log.Logger) *InferenceEngine {
	return &InferenceEngine{
		client:   client,
		cache:    store,
		cacheTTL: cacheTTL,
		defaults: GenerateOptions{Temperature: 0.7, MaxTokens: 1024, TopP: 0.9},
		logger:   log.OrDefault(logger),
	}
}

// Generate 以 template 对应的提示模板调用模型；opts 中的零值使用默认值
func (e *InferenceEngine) Generate(ctx context.Context, query, template string, opts GenerateOptions) (*InferenceResult, error) {
	if _, ok := promptTemplates[template]; !ok {
		template = TemplateLegislative
	}
	opts = e.withDefaults(opts)
	fullPrompt := promptTemplates[template](query)
	hash := PromptHash(fullPrompt, opts.Temperature)

	if text, ok := e.cached(ctx, hash); ok {
		metrics.InferenceCacheTotal.WithLabelValues("hit").Inc()
		return &InferenceResult{
			Text:       text,
			Structured: ParseStructured(text, template),
			Cached:     true,
			Agent:      template,
			PromptHash: hash,
		}, nil
	}
	metrics.InferenceCacheTotal.WithLabelValues("miss").Inc()

	raw, err := e.client.Generate(ctx, fullPrompt, opts)
	if err != nil {
		return nil, err
	}
	text := ExtractResponse(raw)
	if e.cache != nil {
		if err := e.cache.Set(ctx, cacheKey(hash), text, e.cacheTTL); err != nil {
			e.logger.Warn("写入推理缓存失败", "error", err)
		}
	}
	return &InferenceResult{
		Text:       text,
		Structured: ParseStructured(text, template),
		Agent:      template,
		PromptHash: hash,
	}, nil
}

func (e *InferenceEngine) cached(ctx context.Context, hash string) (string, bool) {
	if e.cache == nil {
		return "", false
	}
	var text string
	if err := e.cache.Get(ctx, cacheKey(hash), &text); err != nil || text == "" {
		return "", false
	}
	return text, true
}

func (e *InferenceEngine) withDefaults(o GenerateOptions) GenerateOptions {
	if o.Temperature <= 0 {
		o.Temperature = e.defaults.Temperature
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = e.defaults.MaxTokens
	}
	if o.TopP <= 0 {
		o.TopP = e.defaults.TopP
	}
	return o
}

func cacheKey(hash string) string { return "inference:" + hash }

// PromptHash md5(prompt_temperature)，作为缓存键
func PromptHash(prompt string, temperature float64) string {
	sum := md5.Sum([]byte(fmt.Sprintf("%s_%g", prompt, temperature)))
	return hex.EncodeToString(sum[:])
}

// ExtractResponse 取第一个出现的回答标记之后的内容；没有标记时原样返回
func ExtractResponse(full string) string {
	for _, marker := range responseMarkers {
		if _, after, ok := strings.Cut(full, marker); ok {
			return strings.TrimSpace(after)
		}
	}
	return full
}

// ParseStructured 解析回答中最外层的 JSON 对象；失败时返回带原文的兜底结构
func ParseStructured(response, template string) map[string]any {
	if m := jsonObjectPattern.FindString(response); m != "" {
		var out map[string]any
		if err := json.Unmarshal([]byte(m), &out); err == nil {
			return out
		}
	}
	return map[string]any{
		"raw_response":        response,
		"agent":               template,
		"parsed_successfully": false,
	}
}

func legislativePrompt(query string) string {
	return "You are a legislative analysis agent specialized in U.S. legislative analysis.\n\n" +
		"CONTEXT:\n" +
		"- You have access to the U.S. Code and historical bill data\n" +
		"- Analyze constitutionality, political viability, and public impact\n\n" +
		"QUERY: " + query + "\n\n" +
		"Respond in this EXACT JSON format:\n" +
		"{\n" +
		"  \"analysis\": \"detailed analysis here\",\n" +
		"  \"probability_of_passage\": 0.85,\n" +
		"  \"key_amendments_expected\": [\"amendment1\", \"amendment2\"],\n" +
		"  \"timeline_estimate\": \"6-9 months\",\n" +
		"  \"constitutional_concerns\": [\"concern1\", \"concern2\"],\n" +
		"  \"recommended_actions\": [\"action1\", \"action2\"],\n" +
		"  \"confidence_score\": 0.92\n" +
		"}\n\n" +
		"ANALYSIS:"
}

func constitutionalPrompt(query string) string {
	return "You are a constitutional analysis agent, an expert in U.S. Constitutional law.\n\n" +
		"CONSTITUTIONAL FRAMEWORK:\n" +
		"- Cite specific Articles, Sections, and Amendments\n" +
		"- Reference relevant Supreme Court precedents\n" +
		"- Consider historical context and modern interpretations\n\n" +
		"QUERY: " + query + "\n\n" +
		"Respond in this EXACT JSON format:\n" +
		"{\n" +
		"  \"constitutional_basis\": [\"Article I, Section 8\", \"14th Amendment\"],\n" +
		"  \"precedent_cases\": [\"Case Name (Year)\", \"Case Name (Year)\"],\n" +
		"  \"alignment_score\": 0.88,\n" +
		"  \"potential_challenges\": [\"challenge1\", \"challenge2\"],\n" +
		"  \"interpretation_notes\": \"detailed notes here\",\n" +
		"  \"recommended_language\": \"suggested constitutional language\"\n" +
		"}\n\n" +
		"ANALYSIS:"
}

func sentimentPrompt(query string) string {
	return "You are a civic sentiment agent. Analyze public discourse and attitudes.\n\n" +
		"QUERY: " + query + "\n\n" +
		"Return JSON with sentiment, confidence, and notable concerns."
}
