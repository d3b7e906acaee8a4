package engine

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// scriptedConn replays a fixed sequence of replies; an entry with err set
// simulates a transport failure (bridge crash).
type scriptedConn struct {
	mu      sync.Mutex
	replies []scriptedReply
	gate    chan struct{}
	closed  bool
}

type scriptedReply struct {
	resp Response
	err  error
}

func (c *scriptedConn) Send(Request) error { return nil }

func (c *scriptedConn) Recv() (Response, error) {
	if c.gate != nil {
		<-c.gate
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.replies) == 0 {
		return Response{}, io.ErrUnexpectedEOF
	}

	reply := c.replies[0]
	c.replies = c.replies[1:]
	return reply.resp, reply.err
}

func (c *scriptedConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// connSequence hands out one conn per spawn call.
type connSequence struct {
	mu    sync.Mutex
	conns []*scriptedConn
	count int
}

func (s *connSequence) spawn(context.Context) (bridgeConn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.count >= len(s.conns) {
		return nil, errors.New("no more bridge processes")
	}
	conn := s.conns[s.count]
	s.count++
	return conn, nil
}

func (s *connSequence) spawns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

func okReply(text string) scriptedReply {
	return scriptedReply{resp: Response{Text: text}}
}

func crashReply() scriptedReply {
	return scriptedReply{err: io.ErrUnexpectedEOF}
}

func TestSubmitReturnsTranscript(t *testing.T) {
	t.Parallel()

	seq := &connSequence{conns: []*scriptedConn{{replies: []scriptedReply{okReply("hello world")}}}}
	p := New(seq.spawn, 0, nil)
	defer p.Close()

	text, err := p.Submit(context.Background(), Request{AudioPath: "/tmp/a.wav", ModelID: "base"})
	require.NoError(t, err)
	require.Equal(t, "hello world", text)
	require.Equal(t, StatusReady, p.Status())
	require.Equal(t, 1, seq.spawns())
}

func TestSubmitReusesBridgeAcrossRequests(t *testing.T) {
	t.Parallel()

	seq := &connSequence{conns: []*scriptedConn{{replies: []scriptedReply{okReply("one"), okReply("two")}}}}
	p := New(seq.spawn, 0, nil)
	defer p.Close()

	_, err := p.Submit(context.Background(), Request{AudioPath: "a"})
	require.NoError(t, err)
	_, err = p.Submit(context.Background(), Request{AudioPath: "b"})
	require.NoError(t, err)
	require.Equal(t, 1, seq.spawns())
}

func TestBridgeErrorResponseDoesNotKillProcess(t *testing.T) {
	t.Parallel()

	seq := &connSequence{conns: []*scriptedConn{{replies: []scriptedReply{
		{resp: Response{Error: "transcribe_failed", Message: "unreadable audio"}},
		okReply("recovered"),
	}}}}
	p := New(seq.spawn, 0, nil)
	defer p.Close()

	_, err := p.Submit(context.Background(), Request{AudioPath: "a"})
	var bridgeErr *BridgeError
	require.ErrorAs(t, err, &bridgeErr)
	require.Equal(t, "transcribe_failed", bridgeErr.Code)
	require.Equal(t, StatusReady, p.Status())

	text, err := p.Submit(context.Background(), Request{AudioPath: "b"})
	require.NoError(t, err)
	require.Equal(t, "recovered", text)
	require.Equal(t, 1, seq.spawns())
}

func TestCrashMidRequestRestartsOnce(t *testing.T) {
	t.Parallel()

	seq := &connSequence{conns: []*scriptedConn{
		{replies: []scriptedReply{okReply("first"), crashReply()}},
		{replies: []scriptedReply{okReply("after restart")}},
	}}
	p := New(seq.spawn, 0, nil)
	defer p.Close()

	_, err := p.Submit(context.Background(), Request{AudioPath: "a"})
	require.NoError(t, err)

	text, err := p.Submit(context.Background(), Request{AudioPath: "b"})
	require.NoError(t, err)
	require.Equal(t, "after restart", text)
	require.Equal(t, 2, seq.spawns())
	require.Equal(t, StatusReady, p.Status())
}

func TestSecondConsecutiveCrashSurfaces(t *testing.T) {
	t.Parallel()

	seq := &connSequence{conns: []*scriptedConn{
		{replies: []scriptedReply{okReply("first"), crashReply()}},
		{replies: []scriptedReply{crashReply()}},
	}}
	p := New(seq.spawn, 0, nil)
	defer p.Close()

	_, err := p.Submit(context.Background(), Request{AudioPath: "a"})
	require.NoError(t, err)

	_, err = p.Submit(context.Background(), Request{AudioPath: "b"})
	require.ErrorIs(t, err, ErrSubprocessCrashed)
	require.Equal(t, StatusCrashed, p.Status())
}

func TestCrashedEngineSelfHealsOnNextSubmit(t *testing.T) {
	t.Parallel()

	seq := &connSequence{conns: []*scriptedConn{
		{replies: []scriptedReply{crashReply()}},
		{replies: []scriptedReply{okReply("healed")}},
	}}
	p := New(seq.spawn, 0, nil)
	defer p.Close()

	// First submission spawns the bridge and it dies under the request.
	_, err := p.Submit(context.Background(), Request{AudioPath: "a"})
	require.ErrorIs(t, err, ErrSubprocessCrashed)
	require.Equal(t, StatusCrashed, p.Status())
	require.Equal(t, 1, seq.spawns())

	text, err := p.Submit(context.Background(), Request{AudioPath: "b"})
	require.NoError(t, err)
	require.Equal(t, "healed", text)
	require.Equal(t, StatusReady, p.Status())
}

func TestQueueDepthEnforced(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	conn := &scriptedConn{gate: gate}
	conn.replies = []scriptedReply{okReply("a"), okReply("b"), okReply("c"), okReply("d")}

	seq := &connSequence{conns: []*scriptedConn{conn}}
	p := New(seq.spawn, 4, nil)
	defer p.Close()

	var wg sync.WaitGroup
	results := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Submit(context.Background(), Request{AudioPath: "x"})
			results <- err
		}()
	}

	// Wait until all four submissions hold queue slots.
	require.Eventually(t, func() bool {
		return len(p.slots) == 4
	}, time.Second, 5*time.Millisecond)

	_, err := p.Submit(context.Background(), Request{AudioPath: "overflow"})
	require.ErrorIs(t, err, ErrEngineBusy)

	close(gate)
	wg.Wait()
	close(results)
	for err := range results {
		require.NoError(t, err)
	}
}

func TestAbortedRequestFreesQueueSlot(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	conn := &scriptedConn{gate: gate}
	conn.replies = []scriptedReply{okReply("a"), okReply("b")}

	seq := &connSequence{conns: []*scriptedConn{conn}}
	p := New(seq.spawn, 2, nil)
	defer p.Close()

	go func() {
		_, _ = p.Submit(context.Background(), Request{AudioPath: "held"})
	}()

	require.Eventually(t, func() bool {
		return p.Status() == StatusBusy
	}, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	aborted := make(chan error, 1)
	go func() {
		_, err := p.Submit(ctx, Request{AudioPath: "aborted"})
		aborted <- err
	}()

	require.Eventually(t, func() bool {
		return len(p.slots) == 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-aborted, context.Canceled)

	// The aborted submission must not leak its slot.
	require.Eventually(t, func() bool {
		return len(p.slots) == 1
	}, time.Second, 5*time.Millisecond)

	close(gate)
}

func TestSubmitAfterCloseFails(t *testing.T) {
	t.Parallel()

	seq := &connSequence{conns: []*scriptedConn{{replies: []scriptedReply{okReply("x")}}}}
	p := New(seq.spawn, 0, nil)
	require.NoError(t, p.Close())

	_, err := p.Submit(context.Background(), Request{AudioPath: "a"})
	require.ErrorIs(t, err, ErrEngineClosed)
}

func TestCloseKillsLiveBridge(t *testing.T) {
	t.Parallel()

	conn := &scriptedConn{replies: []scriptedReply{okReply("x")}}
	seq := &connSequence{conns: []*scriptedConn{conn}}
	p := New(seq.spawn, 0, nil)

	_, err := p.Submit(context.Background(), Request{AudioPath: "a"})
	require.NoError(t, err)

	require.NoError(t, p.Close())
	require.True(t, conn.closed)
}
