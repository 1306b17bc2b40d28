package endpoint

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civic-mesh/internal/model/embedding"
	"civic-mesh/internal/model/llm"
	"civic-mesh/internal/protocol"
	"civic-mesh/internal/storage/cache"
	"civic-mesh/internal/storage/vector"
)

type stubLLM struct {
	reply  string
	err    error
	prompt string
}

func (s *stubLLM) Generate(_ context.Context, prompt string, _ llm.GenerateOptions) (string, error) {
	s.prompt = prompt
	return s.reply, s.err
}

func (s *stubLLM) Chat(ctx context.Context, msgs []llm.Message, o llm.GenerateOptions) (string, error) {
	return s.Generate(ctx, msgs[len(msgs)-1].Content, o)
}

func (s *stubLLM) Model() string    { return "stub" }
func (s *stubLLM) Provider() string { return "stub" }

type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, string, string) ([]float64, error) {
	return nil, errors.New("embedding service unavailable")
}

func (failingEmbedder) EmbedBatch(context.Context, []string, string) ([][]float64, error) {
	return nil, errors.New("embedding service unavailable")
}

func (failingEmbedder) Dimension() int { return 64 }

// seededCollaborators 内存向量库中放入一条已通过的法案与一条宪法条款
func seededCollaborators(t *testing.T, client llm.Client) Collaborators {
	t.Helper()
	ctx := context.Background()
	emb := embedding.NewHashEmbedder(64)
	store := vector.NewMemoryStore(64)

	text := "universal healthcare coverage expansion"
	vec, err := emb.Embed(ctx, text, embedding.TagGeneral)
	require.NoError(t, err)
	_, err = store.StoreArtifact(ctx, &vector.Artifact{Title: "Healthcare Act", Content: text, Status: "passed"}, vec)
	require.NoError(t, err)
	require.NoError(t, store.StoreClause(ctx, &vector.Clause{Article: "I", Section: "8", Text: "general welfare"}, vec))

	deps := Collaborators{Embedder: emb, Store: store}
	if client != nil {
		deps.Inference = llm.NewInferenceEngine(client, cache.NewMemoryStore(10), time.Minute, nil)
	}
	return deps
}

func analysisPair(t *testing.T, agent protocol.AgentIdentity, deps Collaborators) *Endpoint {
	t.Helper()
	orch, target, _ := newPair(t, agent)
	RegisterAnalysisHandlers(target, deps, nil)
	return orch
}

func TestQueryHandler_WithContextAndModel(t *testing.T) {
	client := &stubLLM{reply: `ANALYSIS: {"analysis":"likely constitutional","confidence_score":0.8}`}
	orch := analysisPair(t, protocol.ConstitutionalAnalyzer, seededCollaborators(t, client))

	env := query(t, protocol.ConstitutionalAnalyzer, "universal healthcare coverage expansion")
	reply, err := orch.Request(context.Background(), env, time.Second)
	require.NoError(t, err)
	require.Equal(t, protocol.KindResponse, reply.Kind)

	assert.Equal(t, "universal healthcare coverage expansion", reply.Payload.String("query"))
	assert.ElementsMatch(t, []string{"legislation", "constitutional"}, reply.Payload.Strings("context_used"))

	analysis := reply.Payload.Map("analysis")
	require.NotNil(t, analysis)
	assert.Equal(t, "likely constitutional", analysis.String("analysis"))
	score, ok := analysis.Float("confidence_score")
	require.True(t, ok)
	assert.InDelta(t, 0.8, score, 1e-9)

	// 检索到的上下文进入提示词，模板由身份决定
	assert.Contains(t, client.prompt, "Healthcare Act")
	assert.Contains(t, client.prompt, "Art. I, Sec. 8")
	assert.Equal(t, llm.TemplateConstitutional, reply.Payload.Map("inference").String("template"))
}

func TestQueryHandler_DegradesOnDownstreamFailures(t *testing.T) {
	deps := Collaborators{
		Embedder:  failingEmbedder{},
		Store:     vector.NewMemoryStore(64),
		Inference: llm.NewInferenceEngine(&stubLLM{err: errors.New("503 from provider")}, nil, 0, nil),
	}
	orch := analysisPair(t, protocol.LegislativePredictor, deps)

	env := query(t, protocol.LegislativePredictor, "farm subsidies")
	reply, err := orch.Request(context.Background(), env, time.Second)
	require.NoError(t, err)
	assert.Equal(t, protocol.KindResponse, reply.Kind, "downstream failures never turn into Error replies")
	assert.Empty(t, reply.Payload.Strings("context_used"))
	assert.Equal(t, "farm subsidies", reply.Payload.Map("analysis").String("summary"))
	assert.False(t, reply.Payload.Has("inference"))
}

func TestQueryHandler_NoCollaborators(t *testing.T) {
	orch := analysisPair(t, protocol.CivicSentiment, Collaborators{})
	reply, err := orch.Request(context.Background(), query(t, protocol.CivicSentiment, "zoning reform"), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "zoning reform", reply.Payload.Map("analysis").String("summary"))
	assert.NotNil(t, reply.Payload["context_used"])
}

func TestTaskHandler(t *testing.T) {
	orch := analysisPair(t, protocol.LegislativePredictor, Collaborators{})
	ctx := context.Background()

	send := func(payload protocol.Payload) *protocol.Envelope {
		env, err := protocol.NewEnvelope(protocol.Orchestrator, []protocol.AgentIdentity{protocol.LegislativePredictor},
			protocol.KindTask, payload)
		require.NoError(t, err)
		reply, err := orch.Request(ctx, env, time.Second)
		require.NoError(t, err)
		require.Equal(t, protocol.KindResult, reply.Kind)
		return reply
	}

	reply := send(protocol.Payload{"task": "water_rights"})
	assert.Equal(t, "water_rights", reply.Payload.String("task"))
	assert.Equal(t, "unknown_task", reply.Payload.Map("result").String("status"))

	reply = send(protocol.Payload{"task": TaskVotePrediction, "parameters": map[string]any{"bill_title": "HR 1"}})
	result := reply.Payload.Map("result")
	assert.Equal(t, "undetermined", result.String("prediction"))
	assert.Equal(t, "HR 1", result.String("bill"))
	assert.Equal(t, "unknown", result.String("chamber"))

	reply = send(protocol.Payload{"task": TaskConstitutionality, "parameters": map[string]any{
		"bill_text": "abcd", "issues": []any{"commerce clause"},
	}})
	result = reply.Payload.Map("result")
	assert.Equal(t, "Constitutionality check requested for text length 4 characters.", result.String("summary"))
	assert.Equal(t, []string{"commerce clause"}, result.Strings("issues"))
}

func TestTaskHandler_VotePredictionWithModel(t *testing.T) {
	client := &stubLLM{reply: `{"probability_of_passage":0.72}`}
	deps := Collaborators{Inference: llm.NewInferenceEngine(client, nil, 0, nil)}
	orch := analysisPair(t, protocol.LegislativePredictor, deps)

	env, err := protocol.NewEnvelope(protocol.Orchestrator, []protocol.AgentIdentity{protocol.LegislativePredictor},
		protocol.KindTask, protocol.Payload{"task": TaskVotePrediction, "parameters": map[string]any{"bill_title": "HR 1", "chamber": "house"}})
	require.NoError(t, err)
	reply, err := orch.Request(context.Background(), env, time.Second)
	require.NoError(t, err)
	result := reply.Payload.Map("result")
	assert.Equal(t, "likely_pass", result.String("prediction"))
	conf, ok := result.Float("confidence")
	require.True(t, ok)
	assert.InDelta(t, 0.72, conf, 1e-9)
}

func TestPromptTemplate(t *testing.T) {
	assert.Equal(t, llm.TemplateSentiment, PromptTemplate(protocol.CivicSentiment))
	assert.Equal(t, llm.TemplateConstitutional, PromptTemplate(protocol.ConstitutionalAnalyzer))
	assert.Equal(t, llm.TemplateLegislative, PromptTemplate(protocol.ARVisual))
}
