package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
	"go.uber.org/zap"

	"storybook-server/internal/config"
	"storybook-server/internal/domain"
)

const defaultOllamaURL = "http://localhost:11434"

var errOllamaImagesUnsupported = errors.New("image generation is not supported by ollama")

// ollamaClient реализует текстовую часть AIClient через нативный API Ollama.
type ollamaClient struct {
	client  *api.Client
	model   string
	timeout time.Duration
	logger  *zap.Logger
}

func newOllamaClient(cfg config.AIConfig, logger *zap.Logger) (AIClient, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}
	baseURL = strings.TrimSuffix(strings.TrimSuffix(baseURL, "/"), "/v1")

	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Ollama base URL '%s': %w", baseURL, err)
	}

	logger.Info("Ollama client created",
		zap.String("base_url", baseURL),
		zap.String("model", cfg.TextModel),
		zap.Duration("timeout", cfg.Timeout),
	)
	return &ollamaClient{
		client:  api.NewClient(parsedURL, &http.Client{Timeout: cfg.Timeout}),
		model:   cfg.TextModel,
		timeout: cfg.Timeout,
		logger:  logger.Named("OllamaClient"),
	}, nil
}

func (c *ollamaClient) GenerateText(ctx context.Context, req TextRequest) (string, error) {
	stream := false
	chatReq := &api.ChatRequest{
		Model: c.model,
		Messages: []api.Message{
			{Role: "system", Content: req.SystemPrompt},
			{Role: "user", Content: req.UserPrompt},
		},
		Stream: &stream,
		Options: map[string]interface{}{
			"temperature": temperatureOrDefault(req.Temperature),
		},
	}

	startTime := time.Now()
	var resp api.ChatResponse
	err := c.client.Chat(ctx, chatReq, func(r api.ChatResponse) error {
		resp = r
		return nil
	})
	duration := time.Since(startTime)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			c.logger.Error("Ollama request timed out", zap.Duration("timeout", c.timeout), zap.Error(err))
		} else {
			c.logger.Error("Ollama request failed", zap.Duration("duration", duration), zap.Error(err))
		}
		observeRequest(c.model, kindText, "error", duration.Seconds())
		return "", domain.NewProviderError("generate text", "completion request failed", err)
	}

	content := strings.TrimSpace(resp.Message.Content)
	if content == "" {
		observeRequest(c.model, kindText, "error_empty_response", duration.Seconds())
		return "", domain.NewProviderError("generate text", "No content returned from Ollama", domain.ErrEmptyCompletion)
	}

	observeRequest(c.model, kindText, "success", duration.Seconds())
	observeTokens(c.model, resp.PromptEvalCount, resp.EvalCount)
	c.logger.Info("Ollama completion received",
		zap.Duration("duration", duration),
		zap.Int("length", len(content)),
	)
	return content, nil
}

func (c *ollamaClient) GenerateImage(ctx context.Context, req ImageRequest) (string, error) {
	observeRequest(c.model, kindImage, "error_unsupported", 0)
	return "", domain.NewProviderError("generate image", "unsupported provider", errOllamaImagesUnsupported)
}
