package http

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"storybook-server/internal/domain"
	"storybook-server/internal/service"
)

// StageGenerator отдельные этапы генерации.
type StageGenerator interface {
	GenerateCharacter(ctx context.Context, cfg domain.StoryConfig) (service.CharacterResult, error)
	GenerateOutline(ctx context.Context, cfg domain.StoryConfig, characterRaw string) (service.OutlineResult, error)
	GeneratePage(ctx context.Context, cfg domain.StoryConfig, characterRaw string, outline []domain.OutlinePage, entry domain.OutlinePage) (domain.GeneratedPage, error)
	IllustratePage(ctx context.Context, style domain.ArtStyle, imagePrompt string, character domain.CharacterRef, size string) (string, error)
}

// RunManager фоновые запуски генерации.
type RunManager interface {
	Start(ctx context.Context, cfg domain.StoryConfig) (uuid.UUID, error)
	Snapshot(ctx context.Context, runID uuid.UUID) (domain.RunSnapshot, error)
	Discard(ctx context.Context, runID uuid.UUID) error
	Retry(ctx context.Context, runID uuid.UUID) (uuid.UUID, error)
	Save(ctx context.Context, runID uuid.UUID) (uuid.UUID, error)
}

// BookManager сохранение и чтение книг.
type BookManager interface {
	Save(ctx context.Context, payload domain.SaveBookPayload) (uuid.UUID, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.BookWithPages, error)
	List(ctx context.Context) ([]domain.BookSummary, error)
}

var (
	_ StageGenerator = (*service.Generator)(nil)
	_ RunManager     = (*service.RunService)(nil)
	_ BookManager    = (*service.BookService)(nil)
)

// Handler обрабатывает HTTP запросы API книг.
type Handler struct {
	stages StageGenerator
	runs   RunManager
	books  BookManager
	logger *zap.Logger
}

// NewHandler создает обработчик API.
func NewHandler(stages StageGenerator, runs RunManager, books BookManager, logger *zap.Logger) *Handler {
	return &Handler{
		stages: stages,
		runs:   runs,
		books:  books,
		logger: logger.Named("HTTPHandler"),
	}
}

// RegisterRoutes регистрирует маршруты /api.
func (h *Handler) RegisterRoutes(router gin.IRouter) {
	api := router.Group("/api")

	generate := api.Group("/generate")
	{
		generate.POST("/character", h.generateCharacter)
		generate.POST("/outline", h.generateOutline)
		generate.POST("/page", h.generatePage)
		generate.POST("/image", h.generateImage)
	}

	runs := api.Group("/runs")
	{
		runs.POST("", h.startRun)
		runs.GET("/:id", h.getRun)
		runs.DELETE("/:id", h.discardRun)
		runs.POST("/:id/retry", h.retryRun)
		runs.POST("/:id/save", h.saveRun)
	}

	books := api.Group("/books")
	{
		books.POST("", h.saveBook)
		books.GET("", h.listBooks)
		books.GET("/:id", h.getBook)
	}
}

// parseID разбирает :id из пути.
func parseID(c *gin.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, domain.NewValidationError("parse id", err)
	}
	return id, nil
}
