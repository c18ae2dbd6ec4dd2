package server

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"sketchbook/internal/config"
)

type openAIChatRequest struct {
	Model       string              `json:"model"`
	Messages    []openAIChatMessage `json:"messages"`
	Temperature float64             `json:"temperature"`
	MaxTokens   int                 `json:"max_tokens,omitempty"`
}

type openAIChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// OpenAITranslator rewrites a title in the target language before it is used
// as an image prompt.
type OpenAITranslator struct {
	client   openAIClient
	model    string
	language string
}

func NewOpenAITranslator(cfg config.Config) *OpenAITranslator {
	return &OpenAITranslator{
		client:   newOpenAIClient(cfg),
		model:    cfg.OpenAITranslateModel,
		language: cfg.TranslateTargetLanguage,
	}
}

func (t *OpenAITranslator) Translate(ctx context.Context, text string) (string, error) {
	reqBody := openAIChatRequest{
		Model: t.model,
		Messages: []openAIChatMessage{
			{Role: "system", Content: fmt.Sprintf("Translate the user's text to %s. Reply with the translation only.", t.language)},
			{Role: "user", Content: text},
		},
		Temperature: 0,
		MaxTokens:   200,
	}
	var parsed openAIChatResponse
	if err := t.client.post(ctx, "/chat/completions", reqBody, &parsed); err != nil {
		return "", err
	}
	if len(parsed.Choices) == 0 {
		return "", errors.New("OpenAI returned no translation")
	}
	translated := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if translated == "" {
		return "", errors.New("OpenAI returned an empty translation")
	}
	return translated, nil
}

// IdentityTranslator passes titles through unchanged.
type IdentityTranslator struct{}

func (IdentityTranslator) Translate(ctx context.Context, text string) (string, error) {
	return text, nil
}
