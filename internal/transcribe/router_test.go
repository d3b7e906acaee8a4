package transcribe

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/HeroTools/open-wispr/internal/config"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	name      string
	available bool
	text      string
	err       error
	delay     time.Duration

	calls    int
	lastReq  Request
	requests []Request
}

func (s *stubProvider) Name() string    { return s.name }
func (s *stubProvider) Available() bool { return s.available }

func (s *stubProvider) Transcribe(ctx context.Context, req Request) (string, error) {
	s.calls++
	s.lastReq = req
	s.requests = append(s.requests, req)

	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	if s.err != nil {
		return "", s.err
	}
	return s.text, nil
}

func TestRouterPrimarySucceeds(t *testing.T) {
	t.Parallel()

	primary := &stubProvider{name: ProviderLocal, available: true, text: "hello world"}
	fallback := &stubProvider{name: ProviderCloud, available: true, text: "unused"}
	router := NewRouter(primary, fallback, config.FallbackPolicy{AllowCloudFallback: true}, nil)

	result, err := router.Transcribe(context.Background(), Request{AudioPath: "a.wav"})
	require.NoError(t, err)
	require.Equal(t, "hello world", result.Text)
	require.Equal(t, ProviderLocal, result.Provider)
	require.Zero(t, fallback.calls)
}

func TestRouterCloudFailsOverToLocal(t *testing.T) {
	t.Parallel()

	primary := &stubProvider{name: ProviderCloud, available: true, err: errors.New("status 500")}
	fallback := &stubProvider{name: ProviderLocal, available: true, text: "fallback text"}
	router := NewRouter(primary, fallback, config.FallbackPolicy{AllowLocalFallback: true}, nil)

	result, err := router.Transcribe(context.Background(), Request{AudioPath: "a.wav"})
	require.NoError(t, err)
	require.Equal(t, "fallback text", result.Text)
	require.Equal(t, ProviderLocal, result.Provider)
}

func TestRouterFallbackDisabledByPolicy(t *testing.T) {
	t.Parallel()

	primary := &stubProvider{name: ProviderCloud, available: true, err: errors.New("status 500")}
	fallback := &stubProvider{name: ProviderLocal, available: true, text: "never"}
	router := NewRouter(primary, fallback, config.FallbackPolicy{}, nil)

	_, err := router.Transcribe(context.Background(), Request{AudioPath: "a.wav"})

	var all *AllProvidersFailed
	require.ErrorAs(t, err, &all)
	require.Len(t, all.Reasons, 1)
	require.Equal(t, ProviderCloud, all.Reasons[0].Provider)
	require.Zero(t, fallback.calls)
}

func TestRouterFallbackUnavailable(t *testing.T) {
	t.Parallel()

	primary := &stubProvider{name: ProviderLocal, available: true, err: errors.New("bridge crashed")}
	fallback := &stubProvider{name: ProviderCloud, available: false}
	router := NewRouter(primary, fallback, config.FallbackPolicy{AllowCloudFallback: true}, nil)

	_, err := router.Transcribe(context.Background(), Request{AudioPath: "a.wav"})
	var all *AllProvidersFailed
	require.ErrorAs(t, err, &all)
	require.Zero(t, fallback.calls)
}

func TestRouterBothProvidersFail(t *testing.T) {
	t.Parallel()

	primary := &stubProvider{name: ProviderCloud, available: true, err: errors.New("status 500")}
	fallback := &stubProvider{name: ProviderLocal, available: true, err: errors.New("model missing")}
	router := NewRouter(primary, fallback, config.FallbackPolicy{AllowLocalFallback: true}, nil)

	_, err := router.Transcribe(context.Background(), Request{AudioPath: "a.wav"})

	var all *AllProvidersFailed
	require.ErrorAs(t, err, &all)
	require.Len(t, all.Reasons, 2)
	require.Equal(t, ProviderCloud, all.Reasons[0].Provider)
	require.Equal(t, ProviderLocal, all.Reasons[1].Provider)
	require.Contains(t, all.Error(), "status 500")
	require.Contains(t, all.Error(), "model missing")

	// No cascading retries: exactly one attempt per provider.
	require.Equal(t, 1, primary.calls)
	require.Equal(t, 1, fallback.calls)
}

func TestRouterAppliesFallbackModelOverride(t *testing.T) {
	t.Parallel()

	primary := &stubProvider{name: ProviderLocal, available: true, err: errors.New("boom")}
	fallback := &stubProvider{name: ProviderCloud, available: true, text: "ok"}
	router := NewRouter(primary, fallback, config.FallbackPolicy{
		AllowCloudFallback: true,
		FallbackModelID:    "whisper-1",
	}, nil)

	_, err := router.Transcribe(context.Background(), Request{AudioPath: "a.wav", ModelID: "base"})
	require.NoError(t, err)
	require.Equal(t, "base", primary.lastReq.ModelID)
	require.Equal(t, "whisper-1", fallback.lastReq.ModelID)
}

func TestRouterAttemptTimeout(t *testing.T) {
	t.Parallel()

	primary := &stubProvider{name: ProviderLocal, available: true, text: "late", delay: time.Second}
	router := NewRouter(primary, nil, config.FallbackPolicy{}, nil)
	router.AttemptTimeout = 20 * time.Millisecond

	_, err := router.Transcribe(context.Background(), Request{AudioPath: "a.wav"})

	var all *AllProvidersFailed
	require.ErrorAs(t, err, &all)
	require.ErrorIs(t, all.Reasons[0].Err, context.DeadlineExceeded)
}
