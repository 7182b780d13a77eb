package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"storybook-server/internal/domain"
)

// BookListResponse список книг.
type BookListResponse struct {
	Books []domain.BookSummary `json:"books"`
}

func (h *Handler) saveBook(c *gin.Context) {
	var payload domain.SaveBookPayload
	if err := bindJSON(c, &payload); err != nil {
		h.handleServiceError(c, err)
		return
	}

	bookID, err := h.books.Save(c.Request.Context(), payload)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, BookCreatedResponse{BookID: bookID})
}

func (h *Handler) listBooks(c *gin.Context) {
	books, err := h.books.List(c.Request.Context())
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	if books == nil {
		books = []domain.BookSummary{}
	}
	c.JSON(http.StatusOK, BookListResponse{Books: books})
}

func (h *Handler) getBook(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	book, err := h.books.Get(c.Request.Context(), id)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	if book.Pages == nil {
		book.Pages = []domain.BookPage{}
	}
	c.JSON(http.StatusOK, book)
}
