package transcribe

import (
	"context"
	"strings"

	"github.com/HeroTools/open-wispr/internal/engine"
)

// blankAudioToken is what whisper emits for recordings without speech.
const blankAudioToken = "[BLANK_AUDIO]"

// engineSubmitter is the slice of engine.Process the provider needs.
type engineSubmitter interface {
	Submit(ctx context.Context, req engine.Request) (string, error)
}

// Local transcribes through the persistent whisper bridge.
type Local struct {
	Engine engineSubmitter
}

func NewLocal(proc *engine.Process) *Local {
	return &Local{Engine: proc}
}

func (l *Local) Name() string { return ProviderLocal }

func (l *Local) Available() bool { return l.Engine != nil }

func (l *Local) Transcribe(ctx context.Context, req Request) (string, error) {
	language := req.Language
	if language == "auto" {
		// The bridge auto-detects when no language is given.
		language = ""
	}

	text, err := l.Engine.Submit(ctx, engine.Request{
		AudioPath: req.AudioPath,
		ModelID:   req.ModelID,
		Language:  language,
	})
	if err != nil {
		return "", err
	}

	text = strings.TrimSpace(text)
	if strings.EqualFold(text, blankAudioToken) {
		return "", nil
	}
	return text, nil
}
