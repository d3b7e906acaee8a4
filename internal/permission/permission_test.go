package permission

import (
	"context"
	"errors"
	"testing"

	"github.com/HeroTools/open-wispr/internal/platform"
	"github.com/stretchr/testify/require"
)

type fakeSurface struct {
	os      string
	session platform.SessionType

	micErr   error
	writeErr error
	pasteErr error
	pasteOK  bool

	micProbes   int
	writes      []string
	pasteCalls  int
	clipContent string
}

func (f *fakeSurface) OS() string                    { return f.os }
func (f *fakeSurface) Session() platform.SessionType { return f.session }

func (f *fakeSurface) ProbeMic(context.Context) error {
	f.micProbes++
	return f.micErr
}

func (f *fakeSurface) WriteClipboard(_ context.Context, text string) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	f.writes = append(f.writes, text)
	f.clipContent = text
	return nil
}

func (f *fakeSurface) ReadClipboard(context.Context) (string, error) {
	return f.clipContent, nil
}

func (f *fakeSurface) SimulatePaste(context.Context) error {
	f.pasteCalls++
	return f.pasteErr
}

func (f *fakeSurface) PasteToolAvailable() bool { return f.pasteOK }

func TestProbeMicCachesResult(t *testing.T) {
	t.Parallel()

	surface := &fakeSurface{os: "linux", session: platform.SessionX11}
	n := NewNegotiator(surface, nil)

	require.Equal(t, StatusGranted, n.Probe(context.Background(), CapabilityMicrophone))
	require.Equal(t, StatusGranted, n.Probe(context.Background(), CapabilityMicrophone))
	require.Equal(t, 1, surface.micProbes)
}

func TestProbeMicDeniedDoesNotPanicOrPropagate(t *testing.T) {
	t.Parallel()

	surface := &fakeSurface{os: "linux", micErr: errors.New("device busy")}
	n := NewNegotiator(surface, nil)

	require.Equal(t, StatusDenied, n.Probe(context.Background(), CapabilityMicrophone))
}

func TestInvalidateForcesReprobe(t *testing.T) {
	t.Parallel()

	surface := &fakeSurface{os: "linux"}
	n := NewNegotiator(surface, nil)

	n.Probe(context.Background(), CapabilityMicrophone)
	n.Invalidate(CapabilityMicrophone)
	n.Probe(context.Background(), CapabilityMicrophone)
	require.Equal(t, 2, surface.micProbes)
}

func TestAutomationProbeLinuxOnlyNeedsClipboard(t *testing.T) {
	t.Parallel()

	// Paste tooling missing entirely, clipboard works: automation is still
	// granted and paste is tracked as a separate unsupported capability.
	surface := &fakeSurface{os: "linux", session: platform.SessionWayland, pasteOK: false}
	n := NewNegotiator(surface, nil)

	require.Equal(t, StatusGranted, n.Probe(context.Background(), CapabilityAutomation))
	require.Equal(t, StatusUnsupported, n.Probe(context.Background(), CapabilityPasteSimulation))
	require.Zero(t, surface.pasteCalls)
}

func TestAutomationProbeLinuxDeniedOnClipboardFailure(t *testing.T) {
	t.Parallel()

	surface := &fakeSurface{os: "linux", writeErr: errors.New("no display")}
	n := NewNegotiator(surface, nil)

	require.Equal(t, StatusDenied, n.Probe(context.Background(), CapabilityAutomation))
}

func TestAutomationProbeDarwinPerformsPasteRoundTrip(t *testing.T) {
	t.Parallel()

	surface := &fakeSurface{os: "darwin", pasteOK: true, clipContent: "before"}
	n := NewNegotiator(surface, nil)

	require.Equal(t, StatusGranted, n.Probe(context.Background(), CapabilityAutomation))
	require.Equal(t, 1, surface.pasteCalls)
	// Clipboard restored after the probe token write.
	require.Equal(t, "before", surface.clipContent)
}

func TestAutomationProbeDarwinDeniedWithoutAccessibility(t *testing.T) {
	t.Parallel()

	surface := &fakeSurface{os: "darwin", pasteOK: true, pasteErr: errors.New("not trusted")}
	n := NewNegotiator(surface, nil)

	require.Equal(t, StatusDenied, n.Probe(context.Background(), CapabilityAutomation))
}

func TestSnapshotReflectsCacheOnly(t *testing.T) {
	t.Parallel()

	surface := &fakeSurface{os: "linux", session: platform.SessionX11, pasteOK: true}
	n := NewNegotiator(surface, nil)

	state := n.Snapshot()
	require.False(t, state.MicGranted)
	require.Equal(t, StatusUnknown, state.PasteSimulation)

	n.Probe(context.Background(), CapabilityMicrophone)
	n.Probe(context.Background(), CapabilityAutomation)
	n.Probe(context.Background(), CapabilityPasteSimulation)

	state = n.Snapshot()
	require.True(t, state.MicGranted)
	require.True(t, state.AutomationGranted)
	require.Equal(t, StatusGranted, state.PasteSimulation)
	require.Equal(t, "linux", state.Platform)
	require.Equal(t, platform.SessionX11, state.SessionType)
}
