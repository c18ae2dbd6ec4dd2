package server

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"sketchbook/internal/config"
)

type openAIImageRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	N      int    `json:"n"`
	Size   string `json:"size"`
}

type openAIImageResponse struct {
	Data []struct {
		URL string `json:"url"`
	} `json:"data"`
}

type OpenAIImageGenerator struct {
	client openAIClient
	model  string
	size   string
}

func NewOpenAIImageGenerator(cfg config.Config) *OpenAIImageGenerator {
	return &OpenAIImageGenerator{
		client: newOpenAIClient(cfg),
		model:  cfg.OpenAIImageModel,
		size:   cfg.OpenAIImageSize,
	}
}

func (g *OpenAIImageGenerator) GenerateImage(ctx context.Context, prompt string) (string, error) {
	reqBody := openAIImageRequest{
		Model:  g.model,
		Prompt: prompt,
		N:      1,
		Size:   g.size,
	}
	var parsed openAIImageResponse
	if err := g.client.post(ctx, "/images/generations", reqBody, &parsed); err != nil {
		return "", err
	}
	if len(parsed.Data) == 0 || strings.TrimSpace(parsed.Data[0].URL) == "" {
		return "", errors.New("OpenAI returned no image")
	}
	return parsed.Data[0].URL, nil
}

// PlaceholderGenerator returns a deterministic placeholder image URL. It is
// used when no OpenAI key is configured.
type PlaceholderGenerator struct {
	BaseURL string
}

func (g PlaceholderGenerator) GenerateImage(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	base := g.BaseURL
	if base == "" {
		base = "https://placehold.co/512x512/png"
	}
	return base + "?text=" + url.QueryEscape(prompt), nil
}
