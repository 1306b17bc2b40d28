package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticAgents []AgentStatus

func (s staticAgents) AgentStatuses() []AgentStatus { return s }

type staticWorkflows struct {
	active int
	names  []string
}

func (s staticWorkflows) Active() int         { return s.active }
func (s staticWorkflows) Workflows() []string { return s.names }

func TestReporter_OK(t *testing.T) {
	r := NewReporter("civic-api",
		staticAgents{
			{Identity: "orchestrator", Transport: "local", Hosted: true, Pending: 2},
			{Identity: "civic_sentiment", Transport: "http", Address: "http://sentiment:8003"},
		},
		staticWorkflows{active: 1, names: []string{"full_bill_analysis"}},
	)
	r.AddProbe("cache", func(ctx context.Context) error { return nil })

	rep := r.Report(context.Background())
	assert.Equal(t, StatusOK, rep.Status)
	assert.Equal(t, "civic-api", rep.Service)
	require.Len(t, rep.Agents, 2)
	assert.Equal(t, "civic_sentiment", rep.Agents[0].Identity)
	assert.Equal(t, 2, rep.PendingRequests)
	assert.Equal(t, 1, rep.ActiveWorkflows)
	assert.Equal(t, []string{"full_bill_analysis"}, rep.Workflows)
	require.Len(t, rep.Dependencies, 1)
	assert.True(t, rep.Dependencies[0].Healthy)
}

func TestReporter_Degraded(t *testing.T) {
	r := NewReporter("civic-api", staticAgents{{Identity: "orchestrator", Transport: "local"}}, nil).
		WithProbeTimeout(20 * time.Millisecond)
	r.AddProbe("vector", func(ctx context.Context) error { return errors.New("connection refused") })
	r.AddProbe("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	rep := r.Report(context.Background())
	assert.Equal(t, StatusDegraded, rep.Status)
	require.Len(t, rep.Dependencies, 2)
	assert.Equal(t, "slow", rep.Dependencies[0].Name)
	assert.Contains(t, rep.Dependencies[0].Error, "deadline exceeded")
	assert.Equal(t, "connection refused", rep.Dependencies[1].Error)
	assert.Empty(t, rep.Workflows)
}

func TestReporter_NoAgents(t *testing.T) {
	rep := NewReporter("civic-agent", nil, nil).Report(context.Background())
	assert.Equal(t, StatusDegraded, rep.Status)
	assert.NotNil(t, rep.Agents)
	assert.NotNil(t, rep.Dependencies)
}
