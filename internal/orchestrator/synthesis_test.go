package orchestrator

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civic-mesh/internal/protocol"
)

func ok(name string, payload protocol.Payload) StepResult {
	return StepResult{Name: name, Status: StepSucceeded, ReplyKind: protocol.KindResponse, Payload: payload}
}

func TestDefaultSynthesizer_MeanOfSignals(t *testing.T) {
	s := DefaultSynthesizer{}.Synthesize([]StepResult{
		ok("constitutional", protocol.Payload{"analysis": map[string]any{
			"alignment_score":      0.1,
			"potential_challenges": []any{"commerce clause"},
		}}),
		ok("legislative", protocol.Payload{"analysis": map[string]any{
			"analysis":               "modest support",
			"probability_of_passage": 0.2,
		}}),
		ok("sentiment", protocol.Payload{"viability_score": 70.0, "summary": "broadly positive"}),
	})

	require.True(t, s.Scored)
	assert.InDelta(t, 33.3, s.ViabilityScore, 1e-9)
	assert.Equal(t, 3, s.Responded)
	assert.Empty(t, s.Missing)
	assert.Equal(t, "3 of 3 agents responded", s.KeyPoints[0])
	assert.Contains(t, s.KeyPoints, "constitutional concern: commerce clause")
	assert.Contains(t, s.Summary, "legislative: modest support")
	assert.Contains(t, s.Summary, "sentiment: broadly positive")
	assert.Equal(t, 2, strings.Count(s.Summary, " | "))
}

func TestDefaultSynthesizer_MissingInputsDegrade(t *testing.T) {
	s := DefaultSynthesizer{}.Synthesize([]StepResult{
		ok("legislative", protocol.Payload{"result": map[string]any{"confidence": 0.9}}),
		{Name: "sentiment", Status: StepTimedOut, Error: "request timed out"},
		{Name: "visual", Status: StepSkipped},
	})
	require.True(t, s.Scored)
	assert.Equal(t, 90.0, s.ViabilityScore)
	assert.Equal(t, 1, s.Responded)
	assert.Equal(t, []string{"sentiment", "visual"}, s.Missing)
	assert.Contains(t, s.Summary, "sentiment: unavailable (timed_out: request timed out)")
	assert.Contains(t, s.Summary, "visual: unavailable (skipped)")
	assert.Contains(t, s.KeyPoints, "missing input from: sentiment, visual")
}

func TestDefaultSynthesizer_NoSignal(t *testing.T) {
	s := DefaultSynthesizer{}.Synthesize([]StepResult{
		ok("ack", protocol.Payload{"status": "received", "agent": "ar_visual"}),
	})
	assert.False(t, s.Scored)
	assert.Zero(t, s.ViabilityScore)
	assert.Contains(t, s.Summary, `"status":"received"`)

	empty := DefaultSynthesizer{}.Synthesize(nil)
	assert.False(t, empty.Scored)
	assert.Equal(t, "0 of 0 agents responded", empty.KeyPoints[0])
}

func TestDefaultSynthesizer_ClampsAndPrefersPercent(t *testing.T) {
	s := DefaultSynthesizer{}.Synthesize([]StepResult{
		ok("a", protocol.Payload{"score": 140.0, "confidence": 0.1}),
	})
	assert.Equal(t, 100.0, s.ViabilityScore)
}

func TestDefaultSynthesizer_SkipsNonFinite(t *testing.T) {
	s := DefaultSynthesizer{}.Synthesize([]StepResult{
		ok("a", protocol.Payload{"score": 80.0}),
		ok("b", protocol.Payload{"score": "NaN"}),
		ok("c", protocol.Payload{"confidence": "+Inf"}),
		ok("d", protocol.Payload{"score": 90.0}),
	})
	assert.True(t, s.Scored)
	assert.Equal(t, 85.0, s.ViabilityScore)
	assert.Equal(t, 4, s.Responded)
}

func TestThresholdActionPolicy(t *testing.T) {
	p := NewThresholdActionPolicy(0)
	assert.Equal(t, DefaultViabilityCutoff, p.Cutoff)

	actions := p.Recommend(&Synthesis{Scored: true, ViabilityScore: 61})
	require.Len(t, actions, 2)
	assert.Equal(t, "contact_representatives", actions[0].Type)
	assert.Equal(t, "high", actions[0].Priority)
	assert.Equal(t, []string{"senate_committee", "house_committee"}, actions[0].Targets)
	assert.Equal(t, "share_analysis", actions[1].Type)
	assert.Equal(t, "medium", actions[1].Priority)
	assert.Equal(t, []string{"public_briefing"}, actions[1].Targets)

	assert.Empty(t, p.Recommend(&Synthesis{Scored: true, ViabilityScore: 60}))
	assert.Empty(t, p.Recommend(&Synthesis{Scored: false, ViabilityScore: 99}))
	assert.NotNil(t, p.Recommend(nil))
	assert.Empty(t, p.Recommend(&Synthesis{Scored: true, ViabilityScore: math.NaN()}))
}
