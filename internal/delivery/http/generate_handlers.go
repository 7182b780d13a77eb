package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"storybook-server/internal/domain"
)

// CharacterResponse ответ этапа персонажа. Character равен null, если ответ модели не JSON.
type CharacterResponse struct {
	CharacterSheet string                 `json:"characterSheet"`
	Character      *domain.CharacterSheet `json:"character"`
}

// OutlineResponse ответ этапа плана.
type OutlineResponse struct {
	Outline []domain.OutlinePage `json:"outline"`
	Title   string               `json:"title"`
	Raw     string               `json:"raw"`
}

// ImageResponse ответ этапа иллюстрации.
type ImageResponse struct {
	ImageURL string `json:"imageUrl"`
}

func (h *Handler) generateCharacter(c *gin.Context) {
	var cfg domain.StoryConfig
	if err := bindJSON(c, &cfg); err != nil {
		h.handleServiceError(c, err)
		return
	}
	if err := cfg.Validate(); err != nil {
		h.handleServiceError(c, err)
		return
	}

	result, err := h.stages.GenerateCharacter(c.Request.Context(), cfg)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, CharacterResponse{CharacterSheet: result.Raw, Character: result.Sheet})
}

func (h *Handler) generateOutline(c *gin.Context) {
	var req domain.OutlineRequest
	if err := bindJSON(c, &req); err != nil {
		h.handleServiceError(c, err)
		return
	}
	if err := req.Validate(); err != nil {
		h.handleServiceError(c, err)
		return
	}

	result, err := h.stages.GenerateOutline(c.Request.Context(), req.StoryConfig, req.CharacterSheet)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	outline := result.Pages
	if outline == nil {
		outline = []domain.OutlinePage{}
	}
	c.JSON(http.StatusOK, OutlineResponse{Outline: outline, Title: result.Title, Raw: result.Raw})
}

func (h *Handler) generatePage(c *gin.Context) {
	var req domain.PageRequest
	if err := bindJSON(c, &req); err != nil {
		h.handleServiceError(c, err)
		return
	}
	if err := req.Validate(); err != nil {
		h.handleServiceError(c, err)
		return
	}

	// Номер из запроса главнее номера в записи плана
	entry := *req.OutlineEntry
	entry.PageNumber = req.PageNumber

	page, err := h.stages.GeneratePage(c.Request.Context(), req.StoryConfig, req.CharacterSheet, req.Outline, entry)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *Handler) generateImage(c *gin.Context) {
	var req domain.ImageRequest
	if err := bindJSON(c, &req); err != nil {
		h.handleServiceError(c, err)
		return
	}
	if err := req.Validate(); err != nil {
		h.handleServiceError(c, err)
		return
	}

	imageURL, err := h.stages.IllustratePage(c.Request.Context(), req.ArtStyle, req.ImagePrompt, domain.CharacterRefFromJSON(req.CharacterSheet), req.Size)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, ImageResponse{ImageURL: imageURL})
}
