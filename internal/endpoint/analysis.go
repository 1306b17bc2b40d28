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

package endpoint

import (
	"context"
	"fmt"
	"strings"

	"civic-mesh/internal/model/embedding"
	"civic-mesh/internal/model/llm"
	"civic-mesh/internal/protocol"
	"civic-mesh/internal/storage/vector"
	"civic-mesh/pkg/log"
	"civic-mesh/pkg/metrics"
)

// 任务名
const (
	TaskConstitutionality = "analyze_bill_constitutionality"
	TaskVotePrediction    = "predict_vote_outcome"
)

const (
	summaryLimit   = 500
	taskQueryLimit = 2000
)

// promptTemplates 身份 -> 推理模板；未列出的身份使用 legislative
var promptTemplates = map[protocol.AgentIdentity]string{
	protocol.LegislativePredictor:   llm.TemplateLegislative,
	protocol.ConstitutionalAnalyzer: llm.TemplateConstitutional,
	protocol.CivicSentiment:         llm.TemplateSentiment,
}

// PromptTemplate 身份对应的推理模板
func PromptTemplate(identity protocol.AgentIdentity) string {
	if t, ok := promptTemplates[identity]; ok {
		return t
	}
	return llm.TemplateLegislative
}

// Collaborators 分析处理所需的下游协作方，均可为 nil
type Collaborators struct {
	Embedder  embedding.Embedder
	Store     vector.Store
	Inference *llm.InferenceEngine
}

// RegisterAnalysisHandlers 为端点注册 Query 与 Task 处理器
func RegisterAnalysisHandlers(ep *Endpoint, deps Collaborators, logger *log.Logger) {
	ep.Handle(protocol.KindQuery, NewQueryHandler(deps, logger))
	ep.Handle(protocol.KindTask, NewTaskHandler(deps, logger))
}

// QueryHandler 检索上下文并推理，回复 {query, analysis, context_used}。
// 任一协作方失败只降级，不影响回复
type QueryHandler struct {
	deps   Collaborators
	logger *log.Logger
}

// NewQueryHandler 创建 Query 处理器
func NewQueryHandler(deps Collaborators, logger *log.Logger) *QueryHandler {
	return &QueryHandler{deps: deps, logger: log.OrDefault(logger)}
}

func (h *QueryHandler) Handle(ctx context.Context, msg *protocol.Envelope, self *Endpoint) (*protocol.Envelope, error) {
	query := msg.Payload.String("query")
	rag := retrieveContext(ctx, h.deps, query, h.logger)

	analysis := localAnalysis(query, rag)
	content := protocol.Payload{
		"query":        query,
		"context_used": contextKeys(rag),
	}

	template := PromptTemplate(self.Identity())
	if res, ok := infer(ctx, h.deps, composePrompt(query, rag), template, inferenceOptions(msg.Payload), h.logger); ok {
		for k, v := range res.Structured {
			analysis[k] = v
		}
		analysis["notes"] = "model analysis"
		content["inference"] = map[string]any{
			"template":    res.Agent,
			"cached":      res.Cached,
			"prompt_hash": res.PromptHash,
			"text":        res.Text,
		}
	}
	content["analysis"] = analysis

	return protocol.NewReply(msg, self.Identity(), protocol.KindResponse, content)
}

// TaskHandler 执行命名任务，回复 Result {task, result}
type TaskHandler struct {
	deps   Collaborators
	logger *log.Logger
}

// NewTaskHandler 创建 Task 处理器
func NewTaskHandler(deps Collaborators, logger *log.Logger) *TaskHandler {
	return &TaskHandler{deps: deps, logger: log.OrDefault(logger)}
}

func (h *TaskHandler) Handle(ctx context.Context, msg *protocol.Envelope, self *Endpoint) (*protocol.Envelope, error) {
	task := msg.Payload.String("task")
	params := msg.Payload.Map("parameters")
	if params == nil {
		params = protocol.Payload{}
	}

	var result map[string]any
	switch task {
	case TaskConstitutionality:
		result = h.constitutionality(ctx, params)
	case TaskVotePrediction:
		result = h.votePrediction(ctx, params)
	default:
		result = map[string]any{"status": "unknown_task"}
	}

	return protocol.NewReply(msg, self.Identity(), protocol.KindResult, protocol.Payload{
		"task":   task,
		"result": result,
	})
}

func (h *TaskHandler) constitutionality(ctx context.Context, params protocol.Payload) map[string]any {
	billText := params.String("bill_text")
	issues := params.Strings("issues")
	if issues == nil {
		issues = []string{}
	}
	result := map[string]any{
		"summary": fmt.Sprintf("Constitutionality check requested for text length %d characters.", len([]rune(billText))),
		"issues":  issues,
	}
	if billText == "" {
		return result
	}
	query := "Analyze constitutionality of bill: " + embedding.Truncate(billText, taskQueryLimit)
	if res, ok := infer(ctx, h.deps, query, llm.TemplateConstitutional, llm.GenerateOptions{}, h.logger); ok {
		result["analysis"] = res.Structured
		if score, ok := protocol.Payload(res.Structured).Float("confidence_score"); ok {
			result["confidence_score"] = score
		}
	}
	return result
}

func (h *TaskHandler) votePrediction(ctx context.Context, params protocol.Payload) map[string]any {
	bill := params.String("bill_title")
	chamber := params.String("chamber")
	if chamber == "" {
		chamber = "unknown"
	}
	result := map[string]any{
		"prediction": "undetermined",
		"bill":       bill,
		"chamber":    chamber,
		"confidence": 0.0,
	}
	if bill == "" {
		return result
	}
	query := fmt.Sprintf("Predict the %s vote outcome for bill: %s", chamber, bill)
	res, ok := infer(ctx, h.deps, query, llm.TemplateLegislative, llm.GenerateOptions{}, h.logger)
	if !ok {
		return result
	}
	result["analysis"] = res.Structured
	if p, ok := protocol.Payload(res.Structured).Float("probability_of_passage"); ok {
		result["confidence"] = p
		if p >= 0.5 {
			result["prediction"] = "likely_pass"
		} else {
			result["prediction"] = "likely_fail"
		}
	}
	return result
}

// retrieveContext embedding + RAG 检索；失败时返回 nil
func retrieveContext(ctx context.Context, deps Collaborators, query string, logger *log.Logger) *vector.RAGContext {
	if deps.Embedder == nil || deps.Store == nil || query == "" {
		return nil
	}
	vec, err := deps.Embedder.Embed(ctx, query, embedding.TagGeneral)
	if err != nil {
		metrics.DownstreamErrorsTotal.WithLabelValues("embedding").Inc()
		logger.Warn("生成查询向量失败，跳过上下文检索", "error", err)
		return nil
	}
	rag, err := deps.Store.RetrieveForRAG(ctx, vec,
		[]string{vector.CollectionLegislative, vector.CollectionConstitutional})
	if err != nil {
		metrics.DownstreamErrorsTotal.WithLabelValues("retrieval").Inc()
		logger.Warn("上下文检索失败", "error", err)
		return nil
	}
	return rag
}

// infer 推理失败或未配置模型时返回 false
func infer(ctx context.Context, deps Collaborators, query, template string, opts llm.GenerateOptions, logger *log.Logger) (*llm.InferenceResult, bool) {
	if deps.Inference == nil {
		return nil, false
	}
	res, err := deps.Inference.Generate(ctx, query, template, opts)
	if err != nil {
		metrics.DownstreamErrorsTotal.WithLabelValues("inference").Inc()
		logger.Warn("模型推理失败，使用本地分析", "template", template, "error", err)
		return nil, false
	}
	return res, true
}

func inferenceOptions(p protocol.Payload) llm.GenerateOptions {
	var opts llm.GenerateOptions
	if t, ok := p.Float("temperature"); ok {
		opts.Temperature = t
	}
	if n, ok := p.Float("max_tokens"); ok {
		opts.MaxTokens = int(n)
	}
	return opts
}

func localAnalysis(query string, rag *vector.RAGContext) map[string]any {
	return map[string]any{
		"summary":      embedding.Truncate(query, summaryLimit),
		"notes":        "local analysis, no model configured or model unavailable",
		"context_keys": contextKeys(rag),
	}
}

func contextKeys(rag *vector.RAGContext) []string {
	keys := rag.Keys()
	if keys == nil {
		return []string{}
	}
	return keys
}

// composePrompt 把检索到的上下文附在查询之后
func composePrompt(query string, rag *vector.RAGContext) string {
	if rag.Empty() {
		return query
	}
	var b strings.Builder
	b.WriteString(query)
	b.WriteString("\n\nRelevant context:\n")
	for _, hit := range rag.Legislation {
		fmt.Fprintf(&b, "- Legislation %q (similarity %.2f): %s\n", hit.Title, hit.Similarity, hit.Content)
	}
	for _, c := range rag.Constitutional {
		fmt.Fprintf(&b, "- %s: %s\n", c.Reference, c.Clause)
	}
	return b.String()
}
