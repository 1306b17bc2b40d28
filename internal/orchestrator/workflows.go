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

package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"civic-mesh/internal/model/embedding"
	"civic-mesh/internal/protocol"
	"civic-mesh/internal/storage/vector"
	"civic-mesh/pkg/log"
	"civic-mesh/pkg/metrics"
)

// 内置工作流名
const (
	WorkflowFullBillAnalysis        = "full_bill_analysis"
	WorkflowCivicIssueResearch      = "civic_issue_research"
	WorkflowConstitutionalChallenge = "constitutional_challenge"
)

const (
	billTextLimit    = 2000
	issueTextLimit   = 1500
	issueBriefLimit  = 500
	claimTextLimit   = 1500
	topicSearchLimit = 5
	maxTopics        = 5
)

// TopicSource 法案主题抽取所需的 embedding 与立法检索，均可为 nil
type TopicSource struct {
	Embedder embedding.Embedder
	Store    vector.Store
}

// RegisterBuiltins 注册 full_bill_analysis、civic_issue_research、constitutional_challenge
func RegisterBuiltins(e *Engine, topics TopicSource, logger *log.Logger) {
	b := &builtins{topics: topics, logger: log.OrDefault(logger)}
	e.Register(WorkflowFullBillAnalysis, b.fullBillAnalysis, "bill_text")
	e.Register(WorkflowCivicIssueResearch, b.civicIssueResearch, "issue_text")
	e.Register(WorkflowConstitutionalChallenge, b.constitutionalChallenge, "claim_text")
}

type builtins struct {
	topics TopicSource
	logger *log.Logger
}

// fullBillAnalysis 主题抽取后并行请求合宪性、立法预测与舆情三个 agent
func (b *builtins) fullBillAnalysis(ctx context.Context, run *Run, params protocol.Payload) error {
	billText := params.String("bill_text")
	meta := metadata(params, "bill_metadata")
	excerpt := embedding.Truncate(billText, billTextLimit)
	topics := b.extractTopics(ctx, billText)

	run.Parallel(ctx,
		Step{
			Name:    "constitutional_analysis",
			Agent:   protocol.ConstitutionalAnalyzer,
			Payload: protocol.Payload{"query": "Analyze constitutionality of bill: " + excerpt, "bill_metadata": meta},
		},
		Step{
			Name:    "legislative_prediction",
			Agent:   protocol.LegislativePredictor,
			Payload: protocol.Payload{"query": "Predict outcome and analyze bill: " + excerpt, "bill_metadata": meta},
		},
		Step{
			Name:  "public_sentiment",
			Agent: protocol.CivicSentiment,
			Payload: protocol.Payload{
				"query":  fmt.Sprintf("Analyze public sentiment on topics: [%s]", strings.Join(topics, ", ")),
				"topics": topics,
			},
		},
	)
	run.RecommendActions()
	return nil
}

// civicIssueResearch 先立法研究再舆情，break_on_failure 时研究失败即停止
func (b *builtins) civicIssueResearch(ctx context.Context, run *Run, params protocol.Payload) error {
	issue := params.String("issue_text")
	meta := metadata(params, "metadata")
	run.Sequential(ctx, params.Bool("break_on_failure"),
		Step{
			Name:    "research",
			Agent:   protocol.LegislativePredictor,
			Payload: protocol.Payload{"query": "Research civic issue: " + embedding.Truncate(issue, issueTextLimit), "metadata": meta},
		},
		Step{
			Name:    "sentiment",
			Agent:   protocol.CivicSentiment,
			Payload: protocol.Payload{"query": "Public sentiment on: " + embedding.Truncate(issue, issueBriefLimit), "metadata": meta},
		},
	)
	run.RecommendActions()
	return nil
}

// constitutionalChallenge 单个必需的合宪性请求
func (b *builtins) constitutionalChallenge(ctx context.Context, run *Run, params protocol.Payload) error {
	claim := params.String("claim_text")
	run.Sequential(ctx, false, Step{
		Name:     "analysis",
		Agent:    protocol.ConstitutionalAnalyzer,
		Required: true,
		Payload: protocol.Payload{
			"query":    "Evaluate constitutional claim: " + embedding.Truncate(claim, claimTextLimit),
			"metadata": metadata(params, "metadata"),
		},
	})
	return nil
}

// extractTopics 取与法案最相似的立法记录的 key_topics，最多 5 个；失败时返回空
func (b *builtins) extractTopics(ctx context.Context, text string) []string {
	topics := []string{}
	if b.topics.Embedder == nil || b.topics.Store == nil || text == "" {
		return topics
	}
	vec, err := b.topics.Embedder.Embed(ctx, text, embedding.TagGeneral)
	if err != nil {
		metrics.DownstreamErrorsTotal.WithLabelValues("embedding").Inc()
		b.logger.Warn("主题抽取：生成向量失败", "error", err)
		return topics
	}
	hits, err := b.topics.Store.SemanticSearch(ctx, vec, vector.CollectionLegislative, nil, topicSearchLimit)
	if err != nil {
		metrics.DownstreamErrorsTotal.WithLabelValues("retrieval").Inc()
		b.logger.Warn("主题抽取：检索失败", "error", err)
		return topics
	}
	for _, h := range hits {
		topics = append(topics, h.KeyTopics...)
		if len(topics) >= maxTopics {
			return topics[:maxTopics]
		}
	}
	return topics
}

func metadata(params protocol.Payload, key string) protocol.Payload {
	if m := params.Map(key); m != nil {
		return m
	}
	return protocol.Payload{}
}
