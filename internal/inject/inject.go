// Package inject delivers finished text into the focused application via
// clipboard plus a simulated paste keystroke. The clipboard write is the hard
// requirement; paste simulation is best effort and its failure downgrades the
// result instead of failing it.
package inject

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/HeroTools/open-wispr/internal/automation"
	"github.com/HeroTools/open-wispr/internal/permission"
)

// ErrClipboardWrite marks the one injection failure that is fatal: if the
// clipboard cannot hold the text, nothing was delivered at all.
var ErrClipboardWrite = errors.New("clipboard write failed")

// ErrEmptyText rejects injecting nothing.
var ErrEmptyText = errors.New("no text to inject")

type Delivery int

const (
	// DeliveryFailed means the text is nowhere the user can reach it.
	DeliveryFailed Delivery = iota
	// DeliveryClipboardOnly means the clipboard holds the text but the paste
	// keystroke was not sent; the user pastes manually.
	DeliveryClipboardOnly
	// DeliveryDelivered means the text was pasted into the focused app.
	DeliveryDelivered
)

func (d Delivery) String() string {
	switch d {
	case DeliveryDelivered:
		return "delivered"
	case DeliveryClipboardOnly:
		return "clipboard-only"
	default:
		return "failed"
	}
}

// Result describes how far delivery got. Reason is set for anything short of
// a full delivery.
type Result struct {
	Delivery Delivery
	Reason   string
}

type Injector struct {
	Surface     automation.Surface
	Permissions *permission.Negotiator
	Logger      *zap.Logger
}

func New(surface automation.Surface, permissions *permission.Negotiator, logger *zap.Logger) *Injector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Injector{
		Surface:     surface,
		Permissions: permissions,
		Logger:      logger,
	}
}

// Inject writes text to the clipboard and then attempts the paste keystroke.
// The returned error is non-nil only when the clipboard write itself failed.
func (i *Injector) Inject(ctx context.Context, text string) (Result, error) {
	if text == "" {
		return Result{Delivery: DeliveryFailed, Reason: "empty text"}, ErrEmptyText
	}

	if err := i.Surface.WriteClipboard(ctx, text); err != nil {
		i.Logger.Error("clipboard write failed", zap.Error(err))
		return Result{Delivery: DeliveryFailed, Reason: err.Error()},
			fmt.Errorf("%w: %v", ErrClipboardWrite, err)
	}

	status := i.Permissions.Probe(ctx, permission.CapabilityPasteSimulation)
	if status != permission.StatusGranted {
		i.Logger.Warn("paste simulation unavailable, text left on clipboard",
			zap.String("status", status.String()))
		return Result{
			Delivery: DeliveryClipboardOnly,
			Reason:   fmt.Sprintf("paste simulation %s", status),
		}, nil
	}

	if err := i.Surface.SimulatePaste(ctx); err != nil {
		// The grant can be revoked between sessions; drop the cached status
		// so the next session re-probes.
		i.Permissions.Invalidate(permission.CapabilityPasteSimulation)
		i.Logger.Warn("paste simulation failed, text left on clipboard", zap.Error(err))
		return Result{
			Delivery: DeliveryClipboardOnly,
			Reason:   "paste simulation failed: " + err.Error(),
		}, nil
	}

	return Result{Delivery: DeliveryDelivered}, nil
}
