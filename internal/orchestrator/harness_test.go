package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"civic-mesh/internal/endpoint"
	"civic-mesh/internal/protocol"
)

// mesh 编排端点 + 若干本地 agent；每个 agent 的 Query 与 Task 都交给同一个 handler
func mesh(t *testing.T, handlers map[protocol.AgentIdentity]endpoint.Handler) *Execution {
	t.Helper()
	router := protocol.NewRouter(nil, nil)
	orch, err := endpoint.New(protocol.Orchestrator, router, nil)
	require.NoError(t, err)
	router.Register(protocol.Orchestrator, endpoint.NewLocalTransport(orch))
	for id, h := range handlers {
		ep, err := endpoint.New(id, router, nil)
		require.NoError(t, err)
		ep.Handle(protocol.KindQuery, h)
		ep.Handle(protocol.KindTask, h)
		router.Register(id, endpoint.NewLocalTransport(ep))
		t.Cleanup(func() { _ = ep.Close() })
	}
	t.Cleanup(func() { _ = orch.Close() })
	return NewExecution(orch, time.Second, nil)
}

// respond 固定回复 payload
func respond(payload protocol.Payload) endpoint.Handler {
	return endpoint.HandlerFunc(func(ctx context.Context, msg *protocol.Envelope, self *endpoint.Endpoint) (*protocol.Envelope, error) {
		kind := protocol.KindResponse
		if msg.Kind == protocol.KindTask {
			kind = protocol.KindResult
		}
		return protocol.NewReply(msg, self.Identity(), kind, payload)
	})
}

// echo 把收到的 payload 原样放进 analysis
func echo() endpoint.Handler {
	return endpoint.HandlerFunc(func(ctx context.Context, msg *protocol.Envelope, self *endpoint.Endpoint) (*protocol.Envelope, error) {
		return protocol.NewReply(msg, self.Identity(), protocol.KindResponse, protocol.Payload{
			"query":    msg.Payload.String("query"),
			"received": map[string]any(msg.Payload),
		})
	})
}

func fail(msg string) endpoint.Handler {
	return endpoint.HandlerFunc(func(ctx context.Context, _ *protocol.Envelope, _ *endpoint.Endpoint) (*protocol.Envelope, error) {
		return nil, errors.New(msg)
	})
}

// silent release 关闭前不回复
func silent(release <-chan struct{}) endpoint.Handler {
	return endpoint.HandlerFunc(func(ctx context.Context, msg *protocol.Envelope, self *endpoint.Endpoint) (*protocol.Envelope, error) {
		<-release
		return protocol.NewAck(msg, self.Identity())
	})
}

func sleepy(d time.Duration, payload protocol.Payload) endpoint.Handler {
	return endpoint.HandlerFunc(func(ctx context.Context, msg *protocol.Envelope, self *endpoint.Endpoint) (*protocol.Envelope, error) {
		time.Sleep(d)
		return protocol.NewReply(msg, self.Identity(), protocol.KindResponse, payload)
	})
}
