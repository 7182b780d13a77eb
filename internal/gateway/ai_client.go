package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	openaigo "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"storybook-server/internal/config"
	"storybook-server/internal/domain"
)

// DefaultTemperature используется, если этап не задал свою температуру.
const DefaultTemperature = 0.8

// TextRequest один запрос к текстовой модели.
type TextRequest struct {
	SystemPrompt string
	UserPrompt   string
	Temperature  *float64 // nil - DefaultTemperature
}

// ImageRequest один запрос к модели изображений.
type ImageRequest struct {
	Prompt string
	Size   string // пусто - domain.DefaultImageSize
}

// AIClient интерфейс шлюза к провайдеру генерации.
// Каждый вызов - ровно один запрос без повторов.
type AIClient interface {
	// GenerateText возвращает обрезанный по краям текст ответа.
	// Пустой ответ - ProviderError с domain.ErrEmptyCompletion.
	GenerateText(ctx context.Context, req TextRequest) (string, error)
	// GenerateImage возвращает ссылку на изображение: URL как есть или data URI.
	// Ни URL, ни данных - ProviderError с domain.ErrEmptyImage.
	GenerateImage(ctx context.Context, req ImageRequest) (string, error)
}

// Temperature возвращает указатель на значение, для TextRequest.
func Temperature(v float64) *float64 {
	return &v
}

func temperatureOrDefault(t *float64) float64 {
	if t == nil {
		return DefaultTemperature
	}
	return *t
}

func imageSizeOrDefault(size string) (string, error) {
	if size == "" {
		return domain.DefaultImageSize, nil
	}
	if err := domain.ValidateImageSize(size); err != nil {
		return "", err
	}
	return size, nil
}

// NormalizeImageResult сводит ответ провайдера к одной ссылке на изображение.
func NormalizeImageResult(url, b64 string) (string, error) {
	if url != "" {
		return url, nil
	}
	if b64 != "" {
		return "data:image/png;base64," + b64, nil
	}
	return "", domain.NewProviderError("generate image", "no image URL or inline data returned", domain.ErrEmptyImage)
}

// NewAIClient создает клиента по типу из конфигурации.
func NewAIClient(cfg config.AIConfig, logger *zap.Logger) (AIClient, error) {
	var (
		client AIClient
		err    error
	)
	switch strings.ToLower(cfg.ClientType) {
	case "", "openai":
		client, err = newOpenAIClient(cfg, logger)
	case "ollama":
		client, err = newOllamaClient(cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported AI client type: %s", cfg.ClientType)
	}
	if err != nil {
		return nil, err
	}
	if cfg.ImageRateInterval > 0 {
		client = &rateLimitedClient{
			AIClient: client,
			limiter:  rate.NewLimiter(rate.Every(cfg.ImageRateInterval), 1),
		}
	}
	return client, nil
}

func newOpenAIClient(cfg config.AIConfig, logger *zap.Logger) (AIClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("OPENAI_API_KEY is not set. Please add it to your environment")
	}
	openaiConfig := openaigo.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		openaiConfig.BaseURL = cfg.BaseURL
	}
	openaiConfig.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	logger.Info("OpenAI client created",
		zap.String("base_url", openaiConfig.BaseURL),
		zap.String("text_model", cfg.TextModel),
		zap.String("image_model", cfg.ImageModel),
		zap.Duration("timeout", cfg.Timeout),
	)
	return &openAIClient{
		client:         openaigo.NewClientWithConfig(openaiConfig),
		textModel:      cfg.TextModel,
		imageModel:     cfg.ImageModel,
		defaultSize:    cfg.ImageSize,
		responseFormat: cfg.ImageResponseFormat,
		logger:         logger.Named("OpenAIClient"),
	}, nil
}

// rateLimitedClient ограничивает частоту вызовов генерации изображений.
type rateLimitedClient struct {
	AIClient
	limiter *rate.Limiter
}

func (c *rateLimitedClient) GenerateImage(ctx context.Context, req ImageRequest) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", domain.NewProviderError("generate image", "rate limiter wait failed", err)
	}
	return c.AIClient.GenerateImage(ctx, req)
}

// Provider лениво создает клиента один раз на процесс и разделяет его
// между всеми запусками. Клиент хранит только настройки подключения.
type Provider struct {
	cfg    config.AIConfig
	logger *zap.Logger

	once   sync.Once
	client AIClient
	err    error
}

var _ AIClient = (*Provider)(nil)

// NewProvider создает ленивый провайдер. Ошибки конфигурации проявятся при первом вызове.
func NewProvider(cfg config.AIConfig, logger *zap.Logger) *Provider {
	return &Provider{cfg: cfg, logger: logger.Named("AIProvider")}
}

// Client возвращает общий клиент, создавая его при первом обращении.
func (p *Provider) Client() (AIClient, error) {
	p.once.Do(func() {
		p.client, p.err = NewAIClient(p.cfg, p.logger)
		if p.err != nil {
			p.logger.Error("Failed to initialize AI client", zap.Error(p.err))
		}
	})
	return p.client, p.err
}

// GenerateText делегирует общему клиенту.
func (p *Provider) GenerateText(ctx context.Context, req TextRequest) (string, error) {
	client, err := p.Client()
	if err != nil {
		return "", domain.NewProviderError("generate text", "AI client is not configured", err)
	}
	return client.GenerateText(ctx, req)
}

// GenerateImage делегирует общему клиенту.
func (p *Provider) GenerateImage(ctx context.Context, req ImageRequest) (string, error) {
	client, err := p.Client()
	if err != nil {
		return "", domain.NewProviderError("generate image", "AI client is not configured", err)
	}
	return client.GenerateImage(ctx, req)
}
