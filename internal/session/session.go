// Package session drives a dictation from hotkey press to injected text. At
// most one session runs at a time; a start while one is in flight is refused
// rather than queued.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/HeroTools/open-wispr/internal/audio"
	"github.com/HeroTools/open-wispr/internal/capture"
	"github.com/HeroTools/open-wispr/internal/inject"
	"github.com/HeroTools/open-wispr/internal/permission"
	"github.com/HeroTools/open-wispr/internal/transcribe"
)

var (
	ErrSessionActive        = errors.New("a dictation session is already in flight")
	ErrFailureUnhandled     = errors.New("previous session failed and has not been acknowledged")
	ErrNotRecording         = errors.New("no recording in progress")
	ErrNothingToCancel      = errors.New("no session to cancel")
	ErrNothingToAcknowledge = errors.New("no failed session to acknowledge")
	ErrMicrophoneDenied     = errors.New("microphone access denied")
	ErrAutomationDenied     = errors.New("automation access denied")
)

type State int32

const (
	StateIdle State = iota
	StateRecording
	StateTranscribing
	StateEnhancing
	StateInjecting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateTranscribing:
		return "transcribing"
	case StateEnhancing:
		return "enhancing"
	case StateInjecting:
		return "injecting"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Result is the outcome of one session. Err is set only on failure; Warnings
// carry soft degradations (enhancement skipped, silent recording discarded).
type Result struct {
	ID             string
	Text           string
	Provider       string
	Delivery       inject.Delivery
	DeliveryReason string
	Warnings       []string
	Err            error
	StartedAt      time.Time
	FinishedAt     time.Time
}

// Event is emitted on every state transition. Result is non-nil once the
// session has finished, one way or the other.
type Event struct {
	SessionID string
	State     State
	Result    *Result
}

// Recorder is the capture surface the machine drives.
type Recorder interface {
	Start(ctx context.Context) error
	Stop() (capture.Buffer, error)
	Cancel() error
}

// Transcriber turns a finalized recording into text.
type Transcriber interface {
	Transcribe(ctx context.Context, req transcribe.Request) (transcribe.Result, error)
}

// Enhancer optionally rewrites the transcript. A nil Enhancer disables the
// stage entirely.
type Enhancer interface {
	Enhance(ctx context.Context, transcript string) (string, error)
}

// TextInjector delivers the final text to the focused application.
type TextInjector interface {
	Inject(ctx context.Context, text string) (inject.Result, error)
}

// CapabilityProber is the slice of the permission negotiator the machine
// needs.
type CapabilityProber interface {
	Probe(ctx context.Context, capability permission.Capability) permission.Status
}

type Options struct {
	ModelID  string
	Language string

	// SilenceGate discards recordings whose audio never rises above the
	// threshold, completing the session without transcribing.
	SilenceGate          bool
	SilenceThresholdDBFS float64

	// Recordings shorter than MinDuration are treated like silence when the
	// gate is on. Zero means the 200ms default.
	MinDuration time.Duration
}

const defaultMinDuration = 200 * time.Millisecond

// Machine is the single-flight dictation state machine.
type Machine struct {
	Recorder    Recorder
	Transcriber Transcriber
	Enhancer    Enhancer
	Injector    TextInjector
	Permissions CapabilityProber
	Options     Options
	Logger      *zap.Logger

	newID   func() string
	analyze func(path string) (audio.Info, error)

	mu      sync.Mutex
	state   State
	current *run
	last    *Result

	events chan Event
}

type run struct {
	id        string
	startedAt time.Time
	cancel    context.CancelFunc
	warnings  []string
}

func NewMachine(recorder Recorder, transcriber Transcriber, enhancer Enhancer, injector TextInjector, permissions CapabilityProber, opts Options, logger *zap.Logger) *Machine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Machine{
		Recorder:    recorder,
		Transcriber: transcriber,
		Enhancer:    enhancer,
		Injector:    injector,
		Permissions: permissions,
		Options:     opts,
		Logger:      logger,
		newID:       uuid.NewString,
		analyze:     audio.Analyze,
		events:      make(chan Event, 16),
	}
}

// Events streams state transitions. Slow consumers lose events rather than
// blocking the pipeline.
func (m *Machine) Events() <-chan Event {
	return m.events
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LastResult returns the most recent finished result, or nil.
func (m *Machine) LastResult() *Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Start begins recording. It refuses to start while another session is in
// flight, and while a failed session awaits acknowledgement.
func (m *Machine) Start(ctx context.Context) (string, error) {
	m.mu.Lock()
	switch m.state {
	case StateIdle:
	case StateFailed:
		m.mu.Unlock()
		return "", ErrFailureUnhandled
	default:
		m.mu.Unlock()
		return "", ErrSessionActive
	}

	id := m.newID()
	m.current = &run{id: id, startedAt: time.Now()}
	m.state = StateRecording
	m.mu.Unlock()

	if m.Permissions.Probe(ctx, permission.CapabilityMicrophone) != permission.StatusGranted {
		m.abortStart(id)
		return "", ErrMicrophoneDenied
	}

	if err := m.Recorder.Start(ctx); err != nil {
		m.abortStart(id)
		return "", fmt.Errorf("start recording: %w", err)
	}

	m.Logger.Info("dictation started", zap.String("session", id))
	m.emit(Event{SessionID: id, State: StateRecording})
	return id, nil
}

func (m *Machine) abortStart(id string) {
	m.mu.Lock()
	if m.current != nil && m.current.id == id {
		m.current = nil
		m.state = StateIdle
	}
	m.mu.Unlock()
}

// Stop ends the recording and runs the rest of the pipeline asynchronously.
// The returned session ID identifies the events that will follow.
func (m *Machine) Stop() (string, error) {
	m.mu.Lock()
	if m.state != StateRecording || m.current == nil {
		m.mu.Unlock()
		return "", ErrNotRecording
	}
	r := m.current
	m.state = StateTranscribing
	pipelineCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	m.mu.Unlock()

	buffer, err := m.Recorder.Stop()
	if err != nil {
		cancel()
		m.finish(r, Result{Err: err})
		return r.id, nil
	}

	m.emit(Event{SessionID: r.id, State: StateTranscribing})
	go m.pipeline(pipelineCtx, r, buffer)
	return r.id, nil
}

// Cancel aborts the in-flight session, discarding its audio and any pending
// result. Canceling returns the machine to idle, never to failed.
func (m *Machine) Cancel() error {
	m.mu.Lock()
	r := m.current
	state := m.state
	m.mu.Unlock()

	if r == nil {
		return ErrNothingToCancel
	}

	if state == StateRecording {
		err := m.Recorder.Cancel()
		m.mu.Lock()
		if m.current == r {
			m.current = nil
			m.state = StateIdle
		}
		m.mu.Unlock()
		m.Logger.Info("dictation canceled", zap.String("session", r.id))
		m.emit(Event{SessionID: r.id, State: StateIdle})
		return err
	}

	if r.cancel != nil {
		r.cancel()
	}
	return nil
}

// Acknowledge clears a failed session so a new one can start.
func (m *Machine) Acknowledge() (*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateFailed {
		return nil, ErrNothingToAcknowledge
	}

	result := m.last
	m.state = StateIdle
	return result, nil
}

func (m *Machine) pipeline(ctx context.Context, r *run, buffer capture.Buffer) {
	defer func() {
		if err := buffer.Discard(); err != nil {
			m.Logger.Warn("failed to remove recording", zap.String("path", buffer.Path), zap.Error(err))
		}
	}()

	if m.Options.SilenceGate && m.discardAsSilence(r, buffer) {
		m.finish(r, Result{Warnings: []string{"recording discarded: no speech detected"}})
		return
	}

	transcript, provider, err := m.transcribeStage(ctx, buffer)
	if err != nil {
		m.finish(r, Result{Err: err})
		return
	}

	if transcript == "" {
		m.finish(r, Result{Provider: provider, Warnings: []string{"transcription returned no text"}})
		return
	}

	text := m.enhanceStage(ctx, r, transcript)

	m.emit(Event{SessionID: r.id, State: StateInjecting})
	m.setState(StateInjecting)

	if m.Permissions.Probe(ctx, permission.CapabilityAutomation) == permission.StatusDenied {
		m.finish(r, Result{Text: text, Provider: provider, Err: ErrAutomationDenied})
		return
	}

	delivery, err := m.Injector.Inject(ctx, text)
	if err != nil {
		m.finish(r, Result{Text: text, Provider: provider, Err: err})
		return
	}

	result := Result{
		Text:           text,
		Provider:       provider,
		Delivery:       delivery.Delivery,
		DeliveryReason: delivery.Reason,
	}
	if delivery.Delivery == inject.DeliveryClipboardOnly {
		r.warnings = append(r.warnings, "text copied to clipboard, paste manually: "+delivery.Reason)
	}
	m.finish(r, result)
}

func (m *Machine) discardAsSilence(r *run, buffer capture.Buffer) bool {
	minDuration := m.Options.MinDuration
	if minDuration <= 0 {
		minDuration = defaultMinDuration
	}
	if buffer.Duration < minDuration {
		m.Logger.Info("recording too short, discarding",
			zap.String("session", r.id),
			zap.Duration("duration", buffer.Duration))
		return true
	}

	info, err := m.analyze(buffer.Path)
	if err != nil {
		// An unreadable recording will fail loudly in transcription; the
		// gate only handles the clean cases.
		m.Logger.Debug("silence analysis failed", zap.Error(err))
		return false
	}

	if info.Silent(m.Options.SilenceThresholdDBFS) {
		m.Logger.Info("recording is silent, discarding",
			zap.String("session", r.id),
			zap.Float64("rmsDBFS", info.RMSdBFS))
		return true
	}
	return false
}

func (m *Machine) transcribeStage(ctx context.Context, buffer capture.Buffer) (string, string, error) {
	result, err := m.Transcriber.Transcribe(ctx, transcribe.Request{
		AudioPath: buffer.Path,
		ModelID:   m.Options.ModelID,
		Language:  m.Options.Language,
	})
	if err != nil {
		return "", "", err
	}
	return result.Text, result.Provider, nil
}

// enhanceStage never fails the session: any error keeps the raw transcript
// and records a warning.
func (m *Machine) enhanceStage(ctx context.Context, r *run, transcript string) string {
	if m.Enhancer == nil {
		return transcript
	}

	m.emit(Event{SessionID: r.id, State: StateEnhancing})
	m.setState(StateEnhancing)

	enhanced, err := m.Enhancer.Enhance(ctx, transcript)
	if err != nil {
		m.Logger.Warn("enhancement failed, using raw transcript",
			zap.String("session", r.id),
			zap.Error(err))
		r.warnings = append(r.warnings, "enhancement failed: "+err.Error())
		return transcript
	}
	return enhanced
}

func (m *Machine) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *Machine) finish(r *run, result Result) {
	result.ID = r.id
	result.StartedAt = r.startedAt
	result.FinishedAt = time.Now()
	result.Warnings = append(r.warnings, result.Warnings...)

	canceled := result.Err != nil && errors.Is(result.Err, context.Canceled)

	final := StateIdle
	if result.Err != nil && !canceled {
		final = StateFailed
	}

	m.mu.Lock()
	if m.current == r {
		m.current = nil
	}
	m.state = final
	m.last = &result
	m.mu.Unlock()

	switch {
	case canceled:
		m.Logger.Info("dictation canceled", zap.String("session", r.id))
	case result.Err != nil:
		m.Logger.Error("dictation failed", zap.String("session", r.id), zap.Error(result.Err))
	default:
		m.Logger.Info("dictation finished",
			zap.String("session", r.id),
			zap.String("provider", result.Provider),
			zap.String("delivery", result.Delivery.String()),
			zap.Int("chars", len(result.Text)))
	}

	m.emit(Event{SessionID: r.id, State: final, Result: &result})
}

func (m *Machine) emit(e Event) {
	select {
	case m.events <- e:
	default:
		m.Logger.Debug("event dropped, subscriber too slow",
			zap.String("session", e.SessionID),
			zap.String("state", e.State.String()))
	}
}
