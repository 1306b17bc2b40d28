package endpoint

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civic-mesh/internal/protocol"
)

// newPair 编排端点 + 一个本地托管的 agent 端点
func newPair(t *testing.T, agent protocol.AgentIdentity) (*Endpoint, *Endpoint, *protocol.Router) {
	t.Helper()
	router := protocol.NewRouter(nil, nil)
	orch, err := New(protocol.Orchestrator, router, nil)
	require.NoError(t, err)
	target, err := New(agent, router, nil)
	require.NoError(t, err)
	router.Register(protocol.Orchestrator, NewLocalTransport(orch))
	router.Register(agent, NewLocalTransport(target))
	t.Cleanup(func() {
		_ = orch.Close()
		_ = target.Close()
	})
	return orch, target, router
}

func query(t *testing.T, to protocol.AgentIdentity, q string) *protocol.Envelope {
	t.Helper()
	env, err := protocol.NewEnvelope(protocol.Orchestrator, []protocol.AgentIdentity{to}, protocol.KindQuery,
		protocol.Payload{"query": q})
	require.NoError(t, err)
	return env
}

func TestEndpoint_New(t *testing.T) {
	_, err := New(protocol.AgentIdentity("nobody"), nil, nil)
	assert.ErrorIs(t, err, protocol.ErrValidation)

	ep, err := New(protocol.ARVisual, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, protocol.ARVisual, ep.Identity())
	assert.NotNil(t, ep.Router())
}

func TestEndpoint_RequestWithoutHandlerIsAcked(t *testing.T) {
	orch, _, _ := newPair(t, protocol.ARVisual)
	env := query(t, protocol.ARVisual, "render district map")

	reply, err := orch.Request(context.Background(), env, time.Second)
	require.NoError(t, err)
	assert.Equal(t, protocol.KindResponse, reply.Kind)
	assert.Equal(t, env.ID, reply.CorrelationID)
	assert.Equal(t, []protocol.AgentIdentity{protocol.Orchestrator}, reply.Recipients)
	assert.Equal(t, "received", reply.Payload.String("status"))
	assert.Equal(t, "ar_visual", reply.Payload.String("agent"))
	assert.Equal(t, 0, orch.Pending())
}

func TestEndpoint_HandlerReply(t *testing.T) {
	orch, target, _ := newPair(t, protocol.CivicSentiment)
	target.Handle(protocol.KindQuery, HandlerFunc(func(ctx context.Context, msg *protocol.Envelope, self *Endpoint) (*protocol.Envelope, error) {
		return protocol.NewReply(msg, self.Identity(), protocol.KindResponse, protocol.Payload{"echo": msg.Payload.String("query")})
	}))

	env := query(t, protocol.CivicSentiment, "housing")
	reply, err := orch.Request(context.Background(), env, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "housing", reply.Payload.String("echo"))
	assert.Equal(t, protocol.CivicSentiment, reply.Sender)
}

func TestEndpoint_HandlerFaultBecomesErrorReply(t *testing.T) {
	cases := map[string]HandlerFunc{
		"error": func(ctx context.Context, msg *protocol.Envelope, self *Endpoint) (*protocol.Envelope, error) {
			return nil, errors.New("model exploded")
		},
		"panic": func(ctx context.Context, msg *protocol.Envelope, self *Endpoint) (*protocol.Envelope, error) {
			panic("boom")
		},
		"wrong correlation": func(ctx context.Context, msg *protocol.Envelope, self *Endpoint) (*protocol.Envelope, error) {
			return protocol.NewEnvelope(self.Identity(), []protocol.AgentIdentity{msg.Sender}, protocol.KindResponse,
				nil, protocol.WithCorrelation("someone-else"))
		},
		"request kind": func(ctx context.Context, msg *protocol.Envelope, self *Endpoint) (*protocol.Envelope, error) {
			return protocol.NewEnvelope(self.Identity(), []protocol.AgentIdentity{msg.Sender}, protocol.KindQuery, nil)
		},
	}
	for name, h := range cases {
		t.Run(name, func(t *testing.T) {
			orch, target, _ := newPair(t, protocol.ConstitutionalAnalyzer)
			target.Handle(protocol.KindQuery, h)

			env := query(t, protocol.ConstitutionalAnalyzer, "claim")
			reply, err := orch.Request(context.Background(), env, time.Second)
			require.NoError(t, err, "handler faults never surface as await errors")
			assert.Equal(t, protocol.KindError, reply.Kind)
			assert.Equal(t, env.ID, reply.CorrelationID)
			assert.NotEmpty(t, reply.Payload.String("error"))
			assert.Equal(t, "constitutional_ai", reply.Payload.String("agent"))
		})
	}
}

func TestEndpoint_HandlerReturningNothingIsAcked(t *testing.T) {
	orch, target, _ := newPair(t, protocol.ActionOptimizer)
	target.Handle(protocol.KindTask, HandlerFunc(func(ctx context.Context, msg *protocol.Envelope, self *Endpoint) (*protocol.Envelope, error) {
		return nil, nil
	}))
	env, err := protocol.NewEnvelope(protocol.Orchestrator, []protocol.AgentIdentity{protocol.ActionOptimizer}, protocol.KindTask, nil)
	require.NoError(t, err)
	reply, err := orch.Request(context.Background(), env, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "received", reply.Payload.String("status"))
}

func TestEndpoint_UnknownRecipientFailsFast(t *testing.T) {
	router := protocol.NewRouter(nil, nil)
	orch, err := New(protocol.Orchestrator, router, nil)
	require.NoError(t, err)

	env := query(t, protocol.LegislativePredictor, "q")
	start := time.Now()
	err = orch.Send(context.Background(), env)
	assert.ErrorIs(t, err, protocol.ErrUnreachable)
	var rerr *protocol.RoutingError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, protocol.LegislativePredictor, rerr.Recipient)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.Equal(t, 0, orch.Pending())

	_, err = orch.Await(context.Background(), env, time.Second)
	assert.ErrorIs(t, err, protocol.ErrNotPending)
}

func TestEndpoint_InvalidEnvelopeRejected(t *testing.T) {
	orch, _, _ := newPair(t, protocol.ARVisual)
	env := query(t, protocol.ARVisual, "q")
	env.CorrelationID = "x"
	assert.ErrorIs(t, orch.Send(context.Background(), env), protocol.ErrValidation)
	assert.ErrorIs(t, orch.Send(context.Background(), nil), protocol.ErrValidation)
	assert.Equal(t, 0, orch.Pending())
}

func TestEndpoint_TimeoutThenLateReply(t *testing.T) {
	router := protocol.NewRouter(nil, nil)
	orch, err := New(protocol.Orchestrator, router, nil)
	require.NoError(t, err)
	// 远端收下消息但从不回复
	var delivered atomic.Int32
	router.Register(protocol.LegislativePredictor, protocol.TransportFunc(func(ctx context.Context, env *protocol.Envelope) (*protocol.Envelope, error) {
		delivered.Add(1)
		return nil, nil
	}))

	env := query(t, protocol.LegislativePredictor, "q")
	reply, err := orch.Request(context.Background(), env, 30*time.Millisecond)
	assert.Nil(t, reply)
	assert.ErrorIs(t, err, protocol.ErrTimeout)
	assert.Equal(t, 0, orch.Pending(), "timed out slot is removed")
	require.NoError(t, orch.Close())
	assert.Equal(t, int32(1), delivered.Load())

	late, err := protocol.NewReply(env, protocol.LegislativePredictor, protocol.KindResponse, protocol.Payload{"late": true})
	require.NoError(t, err)
	out, err := orch.Receive(context.Background(), late)
	assert.NoError(t, err)
	assert.Nil(t, out)
	assert.Equal(t, 0, orch.Pending())
}

func TestEndpoint_DeliveryFailureSettlesSlot(t *testing.T) {
	router := protocol.NewRouter(nil, nil)
	orch, err := New(protocol.Orchestrator, router, nil)
	require.NoError(t, err)
	router.Register(protocol.CivicSentiment, protocol.TransportFunc(func(ctx context.Context, env *protocol.Envelope) (*protocol.Envelope, error) {
		return nil, errors.New("connection refused")
	}))

	env := query(t, protocol.CivicSentiment, "q")
	start := time.Now()
	_, err = orch.Request(context.Background(), env, 5*time.Second)
	assert.ErrorIs(t, err, protocol.ErrDeliveryFailed)
	assert.NotErrorIs(t, err, protocol.ErrTimeout)
	assert.Less(t, time.Since(start), time.Second)
}

func TestEndpoint_AwaitBroadcastIsPreconditionViolation(t *testing.T) {
	orch, _, _ := newPair(t, protocol.CivicSentiment)
	env, err := protocol.NewEnvelope(protocol.Orchestrator,
		[]protocol.AgentIdentity{protocol.CivicSentiment, protocol.ARVisual}, protocol.KindQuery, nil)
	require.NoError(t, err)

	require.NoError(t, orch.Send(context.Background(), env))
	assert.Equal(t, 0, orch.Pending(), "broadcast registers no slot")
	_, err = orch.Await(context.Background(), env, time.Second)
	assert.ErrorIs(t, err, protocol.ErrBroadcastAwait)
}

func TestEndpoint_ReplyBeforeAwait(t *testing.T) {
	orch, _, _ := newPair(t, protocol.ARVisual)
	env := query(t, protocol.ARVisual, "q")
	require.NoError(t, orch.Send(context.Background(), env))
	require.NoError(t, orch.Close()) // 投递与同步回复均已完成

	reply, err := orch.Await(context.Background(), env, time.Second)
	require.NoError(t, err)
	assert.Equal(t, env.ID, reply.CorrelationID)
}

func TestEndpoint_ConcurrentRequestsKeepCorrelation(t *testing.T) {
	orch, target, _ := newPair(t, protocol.LegislativePredictor)
	target.Handle(protocol.KindQuery, HandlerFunc(func(ctx context.Context, msg *protocol.Envelope, self *Endpoint) (*protocol.Envelope, error) {
		time.Sleep(time.Millisecond)
		return protocol.NewReply(msg, self.Identity(), protocol.KindResponse, protocol.Payload{"query": msg.Payload.String("query")})
	}))

	const n = 50
	envs := make([]*protocol.Envelope, n)
	for i := range envs {
		envs[i] = query(t, protocol.LegislativePredictor, fmt.Sprintf("q-%d", i))
		require.NoError(t, orch.Send(context.Background(), envs[i]))
	}
	for _, env := range envs {
		reply, err := orch.Await(context.Background(), env, 2*time.Second)
		require.NoError(t, err)
		assert.Equal(t, env.ID, reply.CorrelationID)
		assert.Equal(t, env.Payload.String("query"), reply.Payload.String("query"))
	}
	assert.Equal(t, 0, orch.Pending())
}

func TestEndpoint_UnmatchedReplyDiscarded(t *testing.T) {
	orch, _, _ := newPair(t, protocol.ARVisual)
	stray, err := protocol.NewEnvelope(protocol.ARVisual, []protocol.AgentIdentity{protocol.Orchestrator},
		protocol.KindResult, nil, protocol.WithCorrelation("never-sent"))
	require.NoError(t, err)
	out, err := orch.Receive(context.Background(), stray)
	assert.NoError(t, err)
	assert.Nil(t, out)
}
