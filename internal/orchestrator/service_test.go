package orchestrator

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civic-mesh/internal/endpoint"
	"civic-mesh/internal/protocol"
	pkgerrors "civic-mesh/pkg/errors"
)

func newService(t *testing.T, handlers map[protocol.AgentIdentity]endpoint.Handler) *Orchestrator {
	t.Helper()
	return NewOrchestrator(newEngine(t, handlers, TopicSource{}), nil, ServiceConfig{}, nil)
}

func TestOrchestrator_StartThenStatus(t *testing.T) {
	release := make(chan struct{})
	o := newService(t, map[protocol.AgentIdentity]endpoint.Handler{
		protocol.ConstitutionalAnalyzer: silent(release),
	})
	ctx := context.Background()

	id, err := o.Start(ctx, WorkflowConstitutionalChallenge, protocol.Payload{"claim_text": "claim"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	snap, err := o.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, RunRunning, snap.Status)
	assert.Equal(t, WorkflowConstitutionalChallenge, snap.Workflow)
	assert.Equal(t, "claim", snap.Parameters.String("claim_text"))
	assert.Nil(t, snap.CompletedAt)

	close(release)
	require.Eventually(t, func() bool {
		r, err := o.Status(ctx, id)
		return err == nil && r.Done()
	}, 2*time.Second, 10*time.Millisecond)

	final, err := o.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, RunCompleted, final.Status)
	require.Len(t, final.Steps, 1)
	assert.Equal(t, StepSucceeded, final.Steps[0].Status)
	assert.Equal(t, 0, o.Active())
}

func TestOrchestrator_StartValidates(t *testing.T) {
	o := newService(t, nil)
	_, err := o.Start(context.Background(), "unknown", nil)
	assert.ErrorIs(t, err, ErrWorkflowNotFound)
	_, err = o.Start(context.Background(), WorkflowCivicIssueResearch, protocol.Payload{"issue_text": ""})
	assert.ErrorIs(t, err, pkgerrors.ErrInvalidArg)

	_, err = o.Status(context.Background(), "nope")
	assert.ErrorIs(t, err, pkgerrors.ErrNotFound)
}

func TestOrchestrator_Shutdown(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	o := newService(t, map[protocol.AgentIdentity]endpoint.Handler{
		protocol.ConstitutionalAnalyzer: silent(release),
	})

	_, err := o.Start(context.Background(), WorkflowConstitutionalChallenge, protocol.Payload{"claim_text": "claim"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, o.Shutdown(ctx), context.DeadlineExceeded)

	_, err = o.Start(context.Background(), WorkflowConstitutionalChallenge, protocol.Payload{"claim_text": "claim"})
	assert.ErrorIs(t, err, ErrShuttingDown)

	// 步骤超时（1s）后运行结束，Shutdown 随之返回
	assert.NoError(t, o.Shutdown(context.Background()))
	assert.Equal(t, 0, o.Active())
}

func TestOrchestrator_ExecuteAndCustom(t *testing.T) {
	o := newService(t, scoredAgents(0.9, 0.9, 0.9))
	ctx := context.Background()

	res, err := o.Execute(ctx, WorkflowFullBillAnalysis, protocol.Payload{"bill_text": "text"})
	require.NoError(t, err)
	stored, err := o.Status(ctx, res.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, res.Synthesis.ViabilityScore, stored.Synthesis.ViabilityScore)

	custom, err := o.Custom(ctx, CustomRequest{Agents: []string{"constitutional"}, Tasks: []protocol.Payload{{"query": "q"}}})
	require.NoError(t, err)
	assert.Equal(t, StepSucceeded, custom.TaskResults[0].Status)
	assert.Equal(t, []string{WorkflowCivicIssueResearch, WorkflowConstitutionalChallenge, WorkflowFullBillAnalysis}, o.Workflows())
}

func TestOrchestrator_FinalSaveFailureMarksRunFailed(t *testing.T) {
	store := &failingStore{MemoryRunStore: NewMemoryRunStore(), failures: 1}
	o := NewOrchestrator(newEngine(t, scoredAgents(0.9, 0.9, 0.9), TopicSource{}), store, ServiceConfig{}, nil)
	ctx := context.Background()

	id, err := o.Start(ctx, WorkflowFullBillAnalysis, protocol.Payload{"bill_text": "text"})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		r, err := o.Status(ctx, id)
		return err == nil && r.Done()
	}, 2*time.Second, 10*time.Millisecond)

	final, err := o.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, RunFailed, final.Status)
	assert.Contains(t, final.Error, "save result")
	assert.NotNil(t, final.CompletedAt)
	assert.Equal(t, "text", final.Parameters.String("bill_text"))
}

func TestOrchestrator_NonFiniteSignalsStillEncode(t *testing.T) {
	o := newService(t, map[protocol.AgentIdentity]endpoint.Handler{
		protocol.LegislativePredictor:   respond(protocol.Payload{"analysis": map[string]any{"probability_of_passage": 0.8}}),
		protocol.ConstitutionalAnalyzer: respond(protocol.Payload{"analysis": map[string]any{"alignment_score": "NaN"}}),
		protocol.CivicSentiment:         respond(protocol.Payload{"analysis": map[string]any{"confidence": 0.9}}),
	})
	ctx := context.Background()

	res, err := o.Execute(ctx, WorkflowFullBillAnalysis, protocol.Payload{"bill_text": "text"})
	require.NoError(t, err)
	assert.Equal(t, RunCompleted, res.Status)
	assert.InDelta(t, 85.0, res.Synthesis.ViabilityScore, 1e-9)
	assert.Len(t, res.Actions, 2)

	_, err = json.Marshal(res)
	require.NoError(t, err)
	stored, err := o.Status(ctx, res.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, RunCompleted, stored.Status)
}
