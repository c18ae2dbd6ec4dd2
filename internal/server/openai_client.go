package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"sketchbook/internal/config"
)

// ErrRejectedPrompt marks a request the provider refused outright. Retrying
// it cannot succeed.
var ErrRejectedPrompt = errors.New("prompt rejected by provider")

type openAIClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

func newOpenAIClient(cfg config.Config) openAIClient {
	return openAIClient{
		apiKey:  strings.TrimSpace(cfg.OpenAIAPIKey),
		baseURL: strings.TrimRight(cfg.OpenAIBaseURL, "/"),
		http:    &http.Client{Timeout: 90 * time.Second},
	}
}

type openAIError struct {
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c openAIClient) post(ctx context.Context, path string, reqBody, dest any) error {
	if c.apiKey == "" {
		return errors.New("OpenAI API key is not configured")
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to build OpenAI request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build OpenAI request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach OpenAI: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read OpenAI response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var parsed openAIError
		message := ""
		if json.Unmarshal(body, &parsed) == nil && parsed.Error != nil {
			message = parsed.Error.Message
		}
		if resp.StatusCode == http.StatusBadRequest {
			return fmt.Errorf("%w: %s", ErrRejectedPrompt, message)
		}
		return fmt.Errorf("OpenAI request failed (%d): %s", resp.StatusCode, message)
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("failed to parse OpenAI response: %w", err)
	}
	return nil
}
