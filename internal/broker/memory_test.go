package broker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civic-mesh/internal/protocol"
	"civic-mesh/pkg/config"
)

func TestMemoryBroker_FanOut(t *testing.T) {
	b := NewMemoryBroker(nil)
	ctx := context.Background()

	var mu sync.Mutex
	got := map[protocol.AgentIdentity][]string{}
	var wg sync.WaitGroup
	wg.Add(2)
	record := func(id protocol.AgentIdentity) func(context.Context, *protocol.Envelope) {
		return func(_ context.Context, env *protocol.Envelope) {
			mu.Lock()
			got[id] = append(got[id], env.ID)
			mu.Unlock()
			wg.Done()
		}
	}
	_, err := b.Subscribe(ctx, protocol.CivicSentiment, record(protocol.CivicSentiment))
	require.NoError(t, err)
	_, err = b.Subscribe(ctx, protocol.LegislativePredictor, record(protocol.LegislativePredictor))
	require.NoError(t, err)

	env, err := protocol.NewEnvelope(protocol.Orchestrator,
		[]protocol.AgentIdentity{protocol.CivicSentiment, protocol.LegislativePredictor, protocol.ARVisual},
		protocol.KindBroadcast, protocol.Payload{"notice": "session opened"})
	require.NoError(t, err)
	require.NoError(t, b.Publish(ctx, env))

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast not delivered")
	}
	assert.Equal(t, []string{env.ID}, got[protocol.CivicSentiment])
	assert.Equal(t, []string{env.ID}, got[protocol.LegislativePredictor])
	require.NoError(t, b.Close())
}

func TestMemoryBroker_Unsubscribe(t *testing.T) {
	b := NewMemoryBroker(nil)
	ctx := context.Background()
	called := make(chan struct{}, 1)
	unsub, err := b.Subscribe(ctx, protocol.CivicSentiment, func(context.Context, *protocol.Envelope) { called <- struct{}{} })
	require.NoError(t, err)
	unsub()

	env, err := protocol.NewEnvelope(protocol.Orchestrator,
		[]protocol.AgentIdentity{protocol.CivicSentiment, protocol.ARVisual}, protocol.KindBroadcast, nil)
	require.NoError(t, err)
	require.NoError(t, b.Publish(ctx, env))
	require.NoError(t, b.Close())
	assert.Len(t, called, 0)

	assert.ErrorIs(t, b.Publish(ctx, env), ErrClosed)
}

func TestNewBroker(t *testing.T) {
	b, err := NewBroker(config.BrokerConfig{}, nil)
	require.NoError(t, err)
	assert.Nil(t, b)

	b, err = NewBroker(config.BrokerConfig{Type: "memory"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryBroker{}, b)

	_, err = NewBroker(config.BrokerConfig{Type: "kafka"}, nil)
	assert.Error(t, err)
}

