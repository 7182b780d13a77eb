package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"storybook-server/internal/domain"
)

// ErrorResponse тело ответа с ошибкой.
type ErrorResponse struct {
	Error string `json:"error"`
}

// statusFor сопоставляет ошибку сервиса с HTTP статусом.
func statusFor(err error) int {
	var (
		validationErr  *domain.ValidationError
		providerErr    *domain.ProviderError
		parseErr       *domain.ParseError
		persistenceErr *domain.PersistenceError
		maxBytesErr    *http.MaxBytesError
	)

	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest
	case errors.As(err, &maxBytesErr):
		return http.StatusRequestEntityTooLarge
	case errors.As(err, &providerErr):
		return http.StatusBadGateway
	case errors.As(err, &parseErr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrRunNotComplete):
		return http.StatusConflict
	case errors.Is(err, domain.ErrRunLimit):
		return http.StatusTooManyRequests
	case errors.As(err, &persistenceErr):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// handleServiceError отвечает {"error": message} с подходящим статусом.
func (h *Handler) handleServiceError(c *gin.Context, err error) {
	status := statusFor(err)
	message := err.Error()

	var persistenceErr *domain.PersistenceError
	switch {
	case errors.As(err, &persistenceErr):
		message = "Failed to access storage"
	case status == http.StatusInternalServerError:
		message = "An unexpected internal error occurred"
	case status == http.StatusBadGateway:
		h.logger.Warn("Provider error", zap.String("path", c.FullPath()), zap.Error(err))
	}

	// 5xx попадают в лог запроса через c.Errors
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(status, ErrorResponse{Error: message})
}

// bindJSON разбирает тело запроса. Ошибка разбора считается ошибкой валидации.
func bindJSON(c *gin.Context, dst interface{}) error {
	if err := c.ShouldBindJSON(dst); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return err
		}
		return domain.NewValidationError("decode request", err)
	}
	return nil
}
