package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"storybook-server/internal/domain"
)

// RunCreatedResponse ответ на запуск генерации.
type RunCreatedResponse struct {
	RunID uuid.UUID `json:"runId"`
}

// BookCreatedResponse ответ на сохранение книги.
type BookCreatedResponse struct {
	BookID uuid.UUID `json:"bookId"`
}

func (h *Handler) startRun(c *gin.Context) {
	var cfg domain.StoryConfig
	if err := bindJSON(c, &cfg); err != nil {
		h.handleServiceError(c, err)
		return
	}

	runID, err := h.runs.Start(c.Request.Context(), cfg)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	h.logger.Info("Run started", zap.String("run_id", runID.String()), zap.String("theme", string(cfg.Theme)))
	c.JSON(http.StatusAccepted, RunCreatedResponse{RunID: runID})
}

func (h *Handler) getRun(c *gin.Context) {
	runID, err := parseID(c)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	snap, err := h.runs.Snapshot(c.Request.Context(), runID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *Handler) discardRun(c *gin.Context) {
	runID, err := parseID(c)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	if err := h.runs.Discard(c.Request.Context(), runID); err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) retryRun(c *gin.Context) {
	runID, err := parseID(c)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	newID, err := h.runs.Retry(c.Request.Context(), runID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, RunCreatedResponse{RunID: newID})
}

func (h *Handler) saveRun(c *gin.Context) {
	runID, err := parseID(c)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	bookID, err := h.runs.Save(c.Request.Context(), runID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, BookCreatedResponse{BookID: bookID})
}
