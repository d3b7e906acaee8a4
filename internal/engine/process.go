// Package engine owns the single long-lived local transcription subprocess.
// The process loads its speech model once; keeping it alive across requests
// amortizes that cost. Requests are serialized through a bounded queue, and
// a crashed bridge is restarted transparently on the next submission.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// DefaultQueueDepth bounds how many submissions may wait on the bridge.
// Overflow fails fast instead of blocking the caller.
const DefaultQueueDepth = 4

var (
	ErrEngineBusy        = errors.New("transcription engine queue is full")
	ErrSubprocessCrashed = errors.New("transcription subprocess crashed")
	ErrEngineClosed      = errors.New("transcription engine is shut down")
)

// BridgeError is a failure reported by the bridge itself, as opposed to a
// transport or process failure.
type BridgeError struct {
	Code    string
	Message string
}

func (e *BridgeError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("bridge error %s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("bridge error %s", e.Code)
}

type Status int32

const (
	StatusStarting Status = iota
	StatusReady
	StatusBusy
	StatusCrashed
)

func (s Status) String() string {
	switch s {
	case StatusStarting:
		return "starting"
	case StatusReady:
		return "ready"
	case StatusBusy:
		return "busy"
	case StatusCrashed:
		return "crashed"
	default:
		return "unknown"
	}
}

// bridgeConn is one live bridge process. Send and Recv are called only from
// the worker goroutine, strictly alternating.
type bridgeConn interface {
	Send(req Request) error
	Recv() (Response, error)
	Close() error
}

type pendingRequest struct {
	ctx  context.Context
	req  Request
	done chan outcome
}

type outcome struct {
	text string
	err  error
}

// Process serializes requests to exactly one bridge subprocess.
type Process struct {
	spawn  func(ctx context.Context) (bridgeConn, error)
	logger *zap.Logger

	slots chan struct{}
	queue chan *pendingRequest

	mu     sync.Mutex
	conn   bridgeConn
	status Status
	closed bool

	shutdown chan struct{}
	workerWG sync.WaitGroup
}

// New builds the process around a spawn function. Exactly one Process exists
// per application run; the bridge is launched lazily on first submission.
func New(spawn func(ctx context.Context) (bridgeConn, error), queueDepth int, logger *zap.Logger) *Process {
	if queueDepth <= 0 {
		queueDepth = DefaultQueueDepth
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Process{
		spawn:    spawn,
		logger:   logger,
		slots:    make(chan struct{}, queueDepth),
		queue:    make(chan *pendingRequest, queueDepth),
		status:   StatusStarting,
		shutdown: make(chan struct{}),
	}

	p.workerWG.Add(1)
	go p.worker()

	return p
}

// NewBundled builds the process around the bundled whisper bridge binary.
func NewBundled(modelDir string, queueDepth int, logger *zap.Logger) (*Process, error) {
	executable, err := ResolveBridgePath()
	if err != nil {
		return nil, err
	}

	spawn := func(ctx context.Context) (bridgeConn, error) {
		return spawnBridge(ctx, executable, modelDir, logger)
	}

	return New(spawn, queueDepth, logger), nil
}

// Submit queues one transcription request and blocks until its response,
// the context ends, or the engine shuts down. When the queue is full it
// fails immediately with ErrEngineBusy.
func (p *Process) Submit(ctx context.Context, req Request) (string, error) {
	select {
	case <-p.shutdown:
		return "", ErrEngineClosed
	default:
	}

	select {
	case p.slots <- struct{}{}:
	default:
		return "", ErrEngineBusy
	}
	defer func() { <-p.slots }()

	pending := &pendingRequest{ctx: ctx, req: req, done: make(chan outcome, 1)}

	select {
	case p.queue <- pending:
	case <-p.shutdown:
		return "", ErrEngineClosed
	}

	select {
	case result := <-pending.done:
		return result.text, result.err
	case <-ctx.Done():
		// The queue slot is freed on return; the worker skips aborted
		// entries when it drains them.
		return "", ctx.Err()
	case <-p.shutdown:
		return "", ErrEngineClosed
	}
}

func (p *Process) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Close terminates the bridge. The bridge is never killed between requests
// during normal operation; this runs only at application shutdown.
func (p *Process) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	close(p.shutdown)
	p.workerWG.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		err := p.conn.Close()
		p.conn = nil
		return err
	}
	return nil
}

func (p *Process) worker() {
	defer p.workerWG.Done()

	for {
		select {
		case <-p.shutdown:
			return
		case pending := <-p.queue:
			if pending.ctx.Err() != nil {
				pending.done <- outcome{err: pending.ctx.Err()}
				continue
			}

			p.setStatus(StatusBusy)
			text, err := p.dispatch(pending)
			pending.done <- outcome{text: text, err: err}
		}
	}
}

// dispatch forwards one request, restarting the bridge at most once when it
// is down or dies mid-request. A second consecutive crash surfaces.
func (p *Process) dispatch(pending *pendingRequest) (string, error) {
	conn, restarted, err := p.ensureConn(pending.ctx)
	if err != nil {
		p.setStatus(StatusCrashed)
		return "", err
	}

	text, err := p.roundTrip(conn, pending.req)
	if err == nil {
		p.setStatus(StatusReady)
		return text, nil
	}

	var bridgeErr *BridgeError
	if errors.As(err, &bridgeErr) {
		// The bridge answered; the process is fine.
		p.setStatus(StatusReady)
		return "", err
	}

	// Transport failure: the bridge died under this request.
	p.dropConn(conn)

	if restarted {
		// This submission already paid for one restart.
		p.setStatus(StatusCrashed)
		return "", fmt.Errorf("%w: %v", ErrSubprocessCrashed, err)
	}

	p.logger.Warn("bridge crashed mid-request, restarting once", zap.Error(err))

	conn, _, spawnErr := p.ensureConn(pending.ctx)
	if spawnErr != nil {
		p.setStatus(StatusCrashed)
		return "", fmt.Errorf("%w: restart failed: %v", ErrSubprocessCrashed, spawnErr)
	}

	text, retryErr := p.roundTrip(conn, pending.req)
	if retryErr == nil {
		p.setStatus(StatusReady)
		return text, nil
	}

	if errors.As(retryErr, &bridgeErr) {
		p.setStatus(StatusReady)
		return "", retryErr
	}

	p.dropConn(conn)
	p.setStatus(StatusCrashed)
	return "", fmt.Errorf("%w: %v", ErrSubprocessCrashed, retryErr)
}

// ensureConn returns the live bridge connection, spawning one if the bridge
// has not started yet or crashed earlier. The second return value reports
// whether this call had to (re)spawn.
func (p *Process) ensureConn(ctx context.Context) (bridgeConn, bool, error) {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()

	if conn != nil {
		return conn, false, nil
	}

	p.logger.Debug("starting transcription bridge")
	conn, err := p.spawn(ctx)
	if err != nil {
		return nil, true, fmt.Errorf("start transcription bridge: %w", err)
	}

	p.mu.Lock()
	p.conn = conn
	p.mu.Unlock()

	return conn, true, nil
}

func (p *Process) roundTrip(conn bridgeConn, req Request) (string, error) {
	if err := conn.Send(req); err != nil {
		return "", fmt.Errorf("write bridge request: %w", err)
	}

	resp, err := conn.Recv()
	if err != nil {
		return "", fmt.Errorf("read bridge response: %w", err)
	}

	if resp.Error != "" {
		return "", &BridgeError{Code: resp.Error, Message: resp.Message}
	}

	if resp.Language != "" {
		p.logger.Debug("bridge detected language", zap.String("language", resp.Language))
	}

	return resp.Text, nil
}

func (p *Process) dropConn(conn bridgeConn) {
	_ = conn.Close()

	p.mu.Lock()
	if p.conn == conn {
		p.conn = nil
	}
	p.mu.Unlock()
}

func (p *Process) setStatus(status Status) {
	p.mu.Lock()
	p.status = status
	p.mu.Unlock()
}
