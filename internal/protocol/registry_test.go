package protocol

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reply(t *testing.T, cid string) *Envelope {
	t.Helper()
	e, err := NewEnvelope(CivicSentiment, []AgentIdentity{Orchestrator}, KindResponse,
		Payload{"analysis": "ok"}, WithCorrelation(cid))
	require.NoError(t, err)
	return e
}

func TestRegistry_ResolveBeforeAwait(t *testing.T) {
	r := NewRegistry()
	slot, err := r.Register("req-1")
	require.NoError(t, err)
	assert.Equal(t, 1, r.Pending())

	require.NoError(t, r.Resolve("req-1", reply(t, "req-1")))
	assert.Equal(t, 0, r.Pending())

	got, err := slot.Wait(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "req-1", got.CorrelationID)
}

func TestRegistry_AwaitThenResolve(t *testing.T) {
	r := NewRegistry()
	_, err := r.Register("req-2")
	require.NoError(t, err)
	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = r.Resolve("req-2", reply(t, "req-2"))
	}()
	got, err := r.Await(context.Background(), "req-2", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "ok", got.Payload.String("analysis"))
}

func TestRegistry_Duplicate(t *testing.T) {
	r := NewRegistry()
	_, err := r.Register("dup")
	require.NoError(t, err)
	_, err = r.Register("dup")
	assert.True(t, errors.Is(err, ErrDuplicateRequest))
}

func TestRegistry_TimeoutThenLateResolve(t *testing.T) {
	r := NewRegistry()
	slot, err := r.Register("slow")
	require.NoError(t, err)

	_, err = slot.Wait(context.Background(), 20*time.Millisecond)
	require.True(t, errors.Is(err, ErrTimeout), "got %v", err)
	assert.Equal(t, 0, r.Pending())

	err = r.Resolve("slow", reply(t, "slow"))
	assert.True(t, errors.Is(err, ErrUnmatchedResponse))

	// 结果不可变：再次等待仍是超时
	_, err = slot.Wait(context.Background(), time.Second)
	assert.True(t, errors.Is(err, ErrTimeout))
}

func TestRegistry_ResolveTwice(t *testing.T) {
	r := NewRegistry()
	_, err := r.Register("once")
	require.NoError(t, err)
	require.NoError(t, r.Resolve("once", reply(t, "once")))
	assert.True(t, errors.Is(r.Resolve("once", reply(t, "once")), ErrUnmatchedResponse))
}

func TestRegistry_Fail(t *testing.T) {
	r := NewRegistry()
	slot, err := r.Register("f")
	require.NoError(t, err)
	cause := &DeliveryError{Recipient: CivicSentiment, Err: errors.New("connection refused")}
	assert.True(t, r.Fail("f", cause))
	assert.False(t, r.Fail("f", cause))

	_, err = slot.Wait(context.Background(), time.Second)
	assert.True(t, errors.Is(err, ErrDeliveryFailed))
	assert.False(t, errors.Is(err, ErrTimeout))
}

func TestRegistry_AwaitUnknown(t *testing.T) {
	r := NewRegistry()
	_, err := r.Await(context.Background(), "nope", time.Second)
	assert.True(t, errors.Is(err, ErrNotPending))
}

func TestRegistry_ContextCancel(t *testing.T) {
	r := NewRegistry()
	slot, err := r.Register("c")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = slot.Wait(ctx, time.Second)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 0, r.Pending())
}

// 超时与结算竞争：每个槽位只能观察到其中一个结果
func TestRegistry_TimeoutResolveRace(t *testing.T) {
	r := NewRegistry()
	const n = 200
	var fulfilled, timedOut, unmatched atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		id := "race-" + strconv.Itoa(i)
		slot, err := r.Register(id)
		require.NoError(t, err)
		env := reply(t, id)
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := slot.Wait(context.Background(), time.Millisecond)
			switch {
			case err == nil:
				fulfilled.Add(1)
			case errors.Is(err, ErrTimeout):
				timedOut.Add(1)
			}
		}()
		go func() {
			defer wg.Done()
			time.Sleep(time.Millisecond)
			if errors.Is(r.Resolve(id, env), ErrUnmatchedResponse) {
				unmatched.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(n), fulfilled.Load()+timedOut.Load())
	assert.Equal(t, timedOut.Load(), unmatched.Load())
	assert.Equal(t, 0, r.Pending())
}

func TestRegistry_ResolveConcurrent(t *testing.T) {
	const n = 32
	r := NewRegistry()
	slot, err := r.Register("req-race")
	require.NoError(t, err)
	msg := reply(t, "req-race")

	var (
		wg        sync.WaitGroup
		resolved  atomic.Int32
		unmatched atomic.Int32
		start     = make(chan struct{})
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			err := r.Resolve("req-race", msg)
			switch {
			case err == nil:
				resolved.Add(1)
			case errors.Is(err, ErrUnmatchedResponse):
				unmatched.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), resolved.Load())
	assert.Equal(t, int32(n-1), unmatched.Load())
	assert.Equal(t, 0, r.Pending())
	got, err := slot.Wait(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "req-race", got.CorrelationID)
}
