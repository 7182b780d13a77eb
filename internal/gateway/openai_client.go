package gateway

import (
	"context"
	"strings"
	"time"

	openaigo "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"storybook-server/internal/domain"
)

// openAIClient реализует AIClient с использованием go-openai.
type openAIClient struct {
	client         *openaigo.Client
	textModel      string
	imageModel     string
	defaultSize    string
	responseFormat string
	logger         *zap.Logger
}

// GenerateText отправляет system + user сообщения и возвращает текст ответа.
func (c *openAIClient) GenerateText(ctx context.Context, req TextRequest) (string, error) {
	temperature := temperatureOrDefault(req.Temperature)
	messages := []openaigo.ChatCompletionMessage{
		{Role: openaigo.ChatMessageRoleSystem, Content: req.SystemPrompt},
		{Role: openaigo.ChatMessageRoleUser, Content: req.UserPrompt},
	}

	c.logger.Debug("Sending chat completion request",
		zap.String("model", c.textModel),
		zap.Int("system_prompt_bytes", len(req.SystemPrompt)),
		zap.Int("user_prompt_bytes", len(req.UserPrompt)),
		zap.Float64("temperature", temperature),
	)

	startTime := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, openaigo.ChatCompletionRequest{
		Model:       c.textModel,
		Messages:    messages,
		Temperature: float32(temperature),
	})
	duration := time.Since(startTime)

	if err != nil {
		c.logger.Error("Chat completion request failed", zap.Duration("duration", duration), zap.Error(err))
		observeRequest(c.textModel, kindText, "error", duration.Seconds())
		return "", domain.NewProviderError("generate text", "completion request failed", err)
	}

	content := ""
	if len(resp.Choices) > 0 {
		content = strings.TrimSpace(resp.Choices[0].Message.Content)
	}
	if content == "" {
		c.logger.Warn("Chat completion returned no content", zap.Duration("duration", duration))
		observeRequest(c.textModel, kindText, "error_empty_response", duration.Seconds())
		return "", domain.NewProviderError("generate text", "No content returned from OpenAI", domain.ErrEmptyCompletion)
	}

	observeRequest(c.textModel, kindText, "success", duration.Seconds())

	promptTokens, completionTokens := resp.Usage.PromptTokens, resp.Usage.CompletionTokens
	if resp.Usage.TotalTokens == 0 {
		promptTokens = estimateTokens(c.textModel, req.SystemPrompt, req.UserPrompt)
		completionTokens = estimateTokens(c.textModel, content)
	}
	observeTokens(c.textModel, promptTokens, completionTokens)

	c.logger.Info("Chat completion received",
		zap.Duration("duration", duration),
		zap.Int("length", len(content)),
		zap.Int("prompt_tokens", promptTokens),
		zap.Int("completion_tokens", completionTokens),
	)
	return content, nil
}

// GenerateImage запрашивает одно изображение. Провайдер может вернуть URL или base64.
func (c *openAIClient) GenerateImage(ctx context.Context, req ImageRequest) (string, error) {
	size := req.Size
	if size == "" {
		size = c.defaultSize
	}
	size, err := imageSizeOrDefault(size)
	if err != nil {
		return "", err
	}

	imageReq := openaigo.ImageRequest{
		Prompt: req.Prompt,
		Model:  c.imageModel,
		N:      1,
		Size:   size,
	}
	if c.responseFormat != "" {
		imageReq.ResponseFormat = c.responseFormat
	}

	c.logger.Debug("Sending image generation request",
		zap.String("model", c.imageModel),
		zap.String("size", size),
		zap.Int("prompt_bytes", len(req.Prompt)),
	)

	startTime := time.Now()
	resp, err := c.client.CreateImage(ctx, imageReq)
	duration := time.Since(startTime)

	if err != nil {
		c.logger.Error("Image generation request failed", zap.Duration("duration", duration), zap.Error(err))
		observeRequest(c.imageModel, kindImage, "error", duration.Seconds())
		return "", domain.NewProviderError("generate image", "image request failed", err)
	}

	var url, b64 string
	if len(resp.Data) > 0 {
		url, b64 = resp.Data[0].URL, resp.Data[0].B64JSON
	}
	ref, err := NormalizeImageResult(url, b64)
	if err != nil {
		c.logger.Warn("Image generation returned no image", zap.Duration("duration", duration))
		observeRequest(c.imageModel, kindImage, "error_empty_response", duration.Seconds())
		return "", err
	}

	observeRequest(c.imageModel, kindImage, "success", duration.Seconds())
	c.logger.Info("Image received",
		zap.Duration("duration", duration),
		zap.Bool("inline", url == ""),
	)
	return ref, nil
}
