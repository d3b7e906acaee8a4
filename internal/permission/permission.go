// Package permission probes and caches host capability grants. The cache is
// the single source of truth: capture and injection consult it instead of
// re-probing, and entries change only through an explicit Invalidate.
package permission

import (
	"context"
	"sync"

	"github.com/HeroTools/open-wispr/internal/automation"
	"github.com/HeroTools/open-wispr/internal/platform"
	"go.uber.org/zap"
)

type Capability string

const (
	CapabilityMicrophone Capability = "mic"
	CapabilityAutomation Capability = "automation"

	// CapabilityPasteSimulation is a best-effort sub-capability of
	// automation on Linux: clipboard access alone grants automation there,
	// and whether simulated paste also works is tracked separately.
	CapabilityPasteSimulation Capability = "pasteSimulation"
)

type Status int

const (
	StatusUnknown Status = iota
	StatusGranted
	StatusDenied
	StatusUnsupported
)

func (s Status) String() string {
	switch s {
	case StatusGranted:
		return "granted"
	case StatusDenied:
		return "denied"
	case StatusUnsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

// State is the cached capability snapshot.
type State struct {
	MicGranted        bool
	AutomationGranted bool
	PasteSimulation   Status
	Platform          string
	SessionType       platform.SessionType
}

const automationProbeToken = "openwispr-permission-probe"

type Negotiator struct {
	surface automation.Surface
	logger  *zap.Logger

	mu    sync.RWMutex
	cache map[Capability]Status
}

func NewNegotiator(surface automation.Surface, logger *zap.Logger) *Negotiator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Negotiator{
		surface: surface,
		logger:  logger,
		cache:   make(map[Capability]Status),
	}
}

// Probe returns the cached status for the capability, running the platform
// probe on first use. Probe failures never propagate as errors; they map to
// StatusDenied or StatusUnsupported.
func (n *Negotiator) Probe(ctx context.Context, capability Capability) Status {
	n.mu.RLock()
	status, ok := n.cache[capability]
	n.mu.RUnlock()
	if ok {
		return status
	}

	status = n.runProbe(ctx, capability)

	n.mu.Lock()
	// A concurrent probe may have raced us; first writer wins so the cache
	// stays stable until an explicit invalidate.
	if existing, ok := n.cache[capability]; ok {
		status = existing
	} else {
		n.cache[capability] = status
	}
	n.mu.Unlock()

	n.logger.Debug("capability probed",
		zap.String("capability", string(capability)),
		zap.String("status", status.String()))
	return status
}

func (n *Negotiator) Invalidate(capability Capability) {
	n.mu.Lock()
	delete(n.cache, capability)
	n.mu.Unlock()
}

// Snapshot reads the cache without probing. Capabilities never probed report
// StatusUnknown.
func (n *Negotiator) Snapshot() State {
	n.mu.RLock()
	defer n.mu.RUnlock()

	return State{
		MicGranted:        n.cache[CapabilityMicrophone] == StatusGranted,
		AutomationGranted: n.cache[CapabilityAutomation] == StatusGranted,
		PasteSimulation:   n.cache[CapabilityPasteSimulation],
		Platform:          n.surface.OS(),
		SessionType:       n.surface.Session(),
	}
}

func (n *Negotiator) runProbe(ctx context.Context, capability Capability) Status {
	switch capability {
	case CapabilityMicrophone:
		if err := n.surface.ProbeMic(ctx); err != nil {
			n.logger.Warn("microphone probe failed", zap.Error(err))
			return StatusDenied
		}
		return StatusGranted

	case CapabilityAutomation:
		return n.probeAutomation(ctx)

	case CapabilityPasteSimulation:
		return n.probePasteSimulation(ctx)

	default:
		return StatusUnsupported
	}
}

// probeAutomation is platform-polymorphic. macOS has a real accessibility
// grant to test, so the probe performs a paste round-trip. On Linux there is
// no such grant; a successful clipboard write is the bar, and paste is the
// separate CapabilityPasteSimulation.
func (n *Negotiator) probeAutomation(ctx context.Context) Status {
	if n.surface.OS() == "darwin" {
		return n.probeDarwinRoundTrip(ctx)
	}

	if err := n.surface.WriteClipboard(ctx, automationProbeToken); err != nil {
		n.logger.Warn("clipboard probe failed", zap.Error(err))
		return StatusDenied
	}
	return StatusGranted
}

func (n *Negotiator) probeDarwinRoundTrip(ctx context.Context) Status {
	previous, readErr := n.surface.ReadClipboard(ctx)

	if err := n.surface.WriteClipboard(ctx, automationProbeToken); err != nil {
		n.logger.Warn("clipboard probe failed", zap.Error(err))
		return StatusDenied
	}

	pasteErr := n.surface.SimulatePaste(ctx)

	if readErr == nil {
		if err := n.surface.WriteClipboard(ctx, previous); err != nil {
			n.logger.Debug("failed to restore clipboard after probe", zap.Error(err))
		}
	}

	if pasteErr != nil {
		n.logger.Warn("accessibility probe failed", zap.Error(pasteErr))
		return StatusDenied
	}
	return StatusGranted
}

func (n *Negotiator) probePasteSimulation(ctx context.Context) Status {
	if !n.surface.PasteToolAvailable() {
		return StatusUnsupported
	}

	if n.surface.OS() == "darwin" {
		// Same mechanism as the automation grant there.
		return n.Probe(ctx, CapabilityAutomation)
	}

	return StatusGranted
}
