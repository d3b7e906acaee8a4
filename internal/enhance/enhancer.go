// Package enhance optionally rewrites a raw transcript through a reasoning
// model. Failures here never fail a dictation session; callers fall back to
// the raw transcript.
package enhance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
)

const dictationPrompt = "You clean up dictated text. Fix punctuation, capitalization, and obvious " +
	"transcription mistakes. Apply spoken corrections like \"scratch that\" or \"new paragraph\". " +
	"Return only the cleaned text with no commentary."

const instructionPrompt = "The user addressed you by name inside a dictation. Treat the text as an " +
	"instruction about how to transform the dictated content (formatting, tone, retractions) and " +
	"return only the resulting text with no commentary."

// Enhancer talks to an OpenAI-compatible chat completions endpoint.
type Enhancer struct {
	BaseURL    string
	APIKey     string
	ModelID    string
	AgentName  string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *zap.Logger
}

func New(baseURL, apiKey, modelID, agentName string, logger *zap.Logger) *Enhancer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enhancer{
		BaseURL:   strings.TrimSuffix(baseURL, "/"),
		APIKey:    apiKey,
		ModelID:   modelID,
		AgentName: agentName,
		Timeout:   20 * time.Second,
		Logger:    logger,
	}
}

// Addressed reports whether the transcript speaks to the configured agent
// directly ("hey <name>, make this formal"), which switches the call from
// cleanup to instruction mode.
func (e *Enhancer) Addressed(transcript string) bool {
	name := strings.TrimSpace(e.AgentName)
	if name == "" {
		return false
	}

	pattern := fmt.Sprintf(`(?i)(^|\b(hey|hi|ok|okay)[,\s]+)%s\b`, regexp.QuoteMeta(name))
	matched, err := regexp.MatchString(pattern, transcript)
	return err == nil && matched
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Enhance rewrites the transcript. On any failure the caller should keep
// the raw transcript and surface a soft warning only.
func (e *Enhancer) Enhance(ctx context.Context, transcript string) (string, error) {
	if strings.TrimSpace(transcript) == "" {
		return transcript, nil
	}

	prompt := dictationPrompt
	if e.Addressed(transcript) {
		prompt = instructionPrompt
		e.Logger.Debug("transcript addresses the agent, switching to instruction mode",
			zap.String("agent", e.AgentName))
	}

	payload, err := json.Marshal(chatRequest{
		Model: e.ModelID,
		Messages: []chatMessage{
			{Role: "system", Content: prompt},
			{Role: "user", Content: transcript},
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal enhancement request: %w", err)
	}

	timeout := e.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, e.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create enhancement request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+e.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient().Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("enhancement request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4*1024*1024))
	if err != nil {
		return "", fmt.Errorf("read enhancement response: %w", err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode enhancement response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		if parsed.Error != nil && parsed.Error.Message != "" {
			return "", fmt.Errorf("reasoning API returned status %d: %s", resp.StatusCode, parsed.Error.Message)
		}
		return "", fmt.Errorf("reasoning API returned status %d", resp.StatusCode)
	}

	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("reasoning API returned no choices")
	}

	enhanced := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if enhanced == "" {
		return "", fmt.Errorf("reasoning API returned empty text")
	}

	return enhanced, nil
}

func (e *Enhancer) httpClient() *http.Client {
	if e.HTTPClient != nil {
		return e.HTTPClient
	}
	return &http.Client{}
}
