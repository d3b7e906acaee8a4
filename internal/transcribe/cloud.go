package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Cloud transcribes by uploading audio to an OpenAI-compatible
// transcription endpoint.
type Cloud struct {
	BaseURL    string
	APIKey     string
	ModelID    string
	HTTPClient *http.Client
}

func NewCloud(baseURL, apiKey, modelID string) *Cloud {
	return &Cloud{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		APIKey:  apiKey,
		ModelID: modelID,
	}
}

func (c *Cloud) Name() string { return ProviderCloud }

func (c *Cloud) Available() bool { return strings.TrimSpace(c.APIKey) != "" }

type cloudTranscriptResponse struct {
	Text  string `json:"text"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (c *Cloud) Transcribe(ctx context.Context, req Request) (string, error) {
	audio, err := os.Open(req.AudioPath)
	if err != nil {
		return "", fmt.Errorf("open audio file: %w", err)
	}
	defer audio.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", filepath.Base(req.AudioPath))
	if err != nil {
		return "", fmt.Errorf("build upload form: %w", err)
	}
	if _, err := io.Copy(part, audio); err != nil {
		return "", fmt.Errorf("copy audio into form: %w", err)
	}

	modelID := req.ModelID
	if modelID == "" {
		modelID = c.ModelID
	}
	if err := writer.WriteField("model", modelID); err != nil {
		return "", fmt.Errorf("build upload form: %w", err)
	}
	if req.Language != "" && req.Language != "auto" {
		if err := writer.WriteField("language", req.Language); err != nil {
			return "", fmt.Errorf("build upload form: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("finalize upload form: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/audio/transcriptions", &body)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient().Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("transcription request: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 4*1024*1024))
	if err != nil {
		return "", fmt.Errorf("read transcription response: %w", err)
	}

	var parsed cloudTranscriptResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("transcription API returned status %d", resp.StatusCode)
		}
		return "", fmt.Errorf("decode transcription response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		if parsed.Error != nil && parsed.Error.Message != "" {
			return "", fmt.Errorf("transcription API returned status %d: %s", resp.StatusCode, parsed.Error.Message)
		}
		return "", fmt.Errorf("transcription API returned status %d", resp.StatusCode)
	}

	return strings.TrimSpace(parsed.Text), nil
}

func (c *Cloud) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: 2 * time.Minute}
}
