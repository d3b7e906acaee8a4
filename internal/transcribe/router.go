package transcribe

import (
	"context"
	"time"

	"github.com/HeroTools/open-wispr/internal/config"
	"go.uber.org/zap"
)

// DefaultAttemptTimeout bounds a single provider attempt.
const DefaultAttemptTimeout = 30 * time.Second

// Router tries the primary provider and falls back at most once. A
// successful fallback is not an error; it only changes the reported
// provider.
type Router struct {
	Primary        Provider
	Fallback       Provider
	Policy         config.FallbackPolicy
	AttemptTimeout time.Duration
	Logger         *zap.Logger
}

func NewRouter(primary, fallback Provider, policy config.FallbackPolicy, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		Primary:        primary,
		Fallback:       fallback,
		Policy:         policy,
		AttemptTimeout: DefaultAttemptTimeout,
		Logger:         logger,
	}
}

func (r *Router) Transcribe(ctx context.Context, req Request) (Result, error) {
	text, primaryErr := r.attempt(ctx, r.Primary, req)
	if primaryErr == nil {
		return Result{Text: text, Provider: r.Primary.Name()}, nil
	}

	reasons := []*ProviderError{{Provider: r.Primary.Name(), Err: primaryErr}}

	fallback, fallbackReq := r.fallbackFor(req)
	if fallback == nil {
		return Result{}, &AllProvidersFailed{Reasons: reasons}
	}

	r.Logger.Warn("primary transcription provider failed, trying fallback",
		zap.String("primary", r.Primary.Name()),
		zap.String("fallback", fallback.Name()),
		zap.Error(primaryErr))

	text, fallbackErr := r.attempt(ctx, fallback, fallbackReq)
	if fallbackErr == nil {
		r.Logger.Info("transcription completed via fallback provider",
			zap.String("provider", fallback.Name()))
		return Result{Text: text, Provider: fallback.Name()}, nil
	}

	reasons = append(reasons, &ProviderError{Provider: fallback.Name(), Err: fallbackErr})
	return Result{}, &AllProvidersFailed{Reasons: reasons}
}

func (r *Router) attempt(ctx context.Context, provider Provider, req Request) (string, error) {
	timeout := r.AttemptTimeout
	if timeout <= 0 {
		timeout = DefaultAttemptTimeout
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return provider.Transcribe(attemptCtx, req)
}

// fallbackFor applies the policy: fall back at most once, never cascade.
func (r *Router) fallbackFor(req Request) (Provider, Request) {
	if r.Fallback == nil || !r.Fallback.Available() {
		return nil, Request{}
	}

	allowed := false
	switch r.Primary.Name() {
	case ProviderCloud:
		allowed = r.Policy.AllowLocalFallback && r.Fallback.Name() == ProviderLocal
	case ProviderLocal:
		allowed = r.Policy.AllowCloudFallback && r.Fallback.Name() == ProviderCloud
	}
	if !allowed {
		return nil, Request{}
	}

	fallbackReq := req
	if r.Policy.FallbackModelID != "" {
		fallbackReq.ModelID = r.Policy.FallbackModelID
	}
	return r.Fallback, fallbackReq
}
