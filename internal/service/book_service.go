package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"storybook-server/internal/domain"
	"storybook-server/internal/messaging"
	"storybook-server/internal/repository"
)

// MaxImagePromptLength длина, до которой обрезается imagePrompt при сохранении.
const MaxImagePromptLength = 500

const publishTimeout = 5 * time.Second

// ImageOffloader выгружает встроенные изображения во внешнее хранилище.
type ImageOffloader interface {
	StoreDataURI(ctx context.Context, keyPrefix, dataURI string) (string, error)
}

// BookService сохраняет и читает книги.
type BookService struct {
	repo      repository.BookRepository
	images    ImageOffloader // может быть nil
	publisher messaging.BookEventPublisher
	logger    *zap.Logger
}

var _ BookSaver = (*BookService)(nil)

// NewBookService создает сервис книг. images может быть nil, publisher nil заменяется на NoopPublisher.
func NewBookService(repo repository.BookRepository, images ImageOffloader, publisher messaging.BookEventPublisher, logger *zap.Logger) *BookService {
	if publisher == nil {
		publisher = messaging.NoopPublisher{}
	}
	return &BookService{
		repo:      repo,
		images:    images,
		publisher: publisher,
		logger:    logger.Named("BookService"),
	}
}

// Save проверяет запрос и создает книгу со всеми страницами одной операцией.
func (s *BookService) Save(ctx context.Context, payload domain.SaveBookPayload) (uuid.UUID, error) {
	if err := payload.Validate(); err != nil {
		booksSaved.WithLabelValues("invalid").Inc()
		return uuid.Nil, err
	}

	characterSheet, err := normalizeJSONField(payload.CharacterSheet)
	if err != nil {
		booksSaved.WithLabelValues("invalid").Inc()
		return uuid.Nil, domain.NewValidationError("save book", fmt.Errorf("characterSheet: %w", err))
	}
	outline, err := normalizeJSONField(payload.Outline)
	if err != nil {
		booksSaved.WithLabelValues("invalid").Inc()
		return uuid.Nil, domain.NewValidationError("save book", fmt.Errorf("outline: %w", err))
	}

	uploadPrefix := uuid.NewString()
	pages := make([]domain.NewBookPage, 0, len(payload.Pages))
	for _, p := range payload.Pages {
		pages = append(pages, domain.NewBookPage{
			PageNumber:  p.PageNumber,
			Text:        p.Text,
			ImageURL:    s.offloadImage(ctx, uploadPrefix, p.PageNumber, p.ImageURL),
			ImagePrompt: truncateRunes(p.ImagePrompt, MaxImagePromptLength),
		})
	}

	favorites := payload.Favorites
	if favorites == nil {
		favorites = []string{}
	}

	bookID, err := s.repo.Create(ctx, domain.NewBook{
		Title:          payload.Title,
		Theme:          payload.Theme,
		Style:          payload.Style,
		Tone:           payload.Tone,
		ChildName:      optionalString(payload.ChildName),
		Favorites:      favorites,
		LessonOfTheDay: optionalString(payload.LessonOfTheDay),
		TotalPages:     payload.TotalPages,
		CharacterSheet: characterSheet,
		Outline:        outline,
		Pages:          pages,
	})
	if err != nil {
		booksSaved.WithLabelValues("error").Inc()
		s.logger.Error("Failed to save book", zap.String("title", payload.Title), zap.Error(err))
		return uuid.Nil, err
	}
	booksSaved.WithLabelValues("success").Inc()
	s.logger.Info("Book saved", zap.String("book_id", bookID.String()), zap.Int("pages", len(pages)))

	s.publishCreated(bookID, payload)
	return bookID, nil
}

// Get возвращает книгу со страницами по порядку.
func (s *BookService) Get(ctx context.Context, id uuid.UUID) (*domain.BookWithPages, error) {
	return s.repo.GetByID(ctx, id)
}

// List возвращает краткие записи книг, новые первыми.
func (s *BookService) List(ctx context.Context) ([]domain.BookSummary, error) {
	return s.repo.List(ctx)
}

// offloadImage заменяет data URI на URL в хранилище. При ошибке остается встроенная картинка.
func (s *BookService) offloadImage(ctx context.Context, prefix string, pageNumber int, imageURL string) string {
	if s.images == nil || !strings.HasPrefix(imageURL, "data:") {
		return imageURL
	}
	key := fmt.Sprintf("books/%s/page-%02d", prefix, pageNumber)
	stored, err := s.images.StoreDataURI(ctx, key, imageURL)
	if err != nil {
		s.logger.Warn("Failed to offload inline image, keeping data URI", zap.Int("page", pageNumber), zap.Error(err))
		return imageURL
	}
	return stored
}

// publishCreated событие публикуется после коммита. Ошибка только логируется.
func (s *BookService) publishCreated(bookID uuid.UUID, payload domain.SaveBookPayload) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	event := messaging.NewBookCreatedEvent(bookID, payload.Title, payload.Theme, payload.Style, payload.Tone, payload.TotalPages)
	if err := s.publisher.PublishBookCreated(ctx, event); err != nil {
		s.logger.Warn("Failed to publish book created event", zap.String("book_id", bookID.String()), zap.Error(err))
	}
}

// normalizeJSONField приводит characterSheet/outline к JSON для jsonb.
// Строка, содержащая JSON, разворачивается; прочие строки сохраняются как JSON строка.
func normalizeJSONField(raw json.RawMessage) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if !json.Valid(trimmed) {
		return nil, fmt.Errorf("not valid JSON")
	}
	if trimmed[0] != '"' {
		return trimmed, nil
	}

	var s string
	if err := json.Unmarshal(trimmed, &s); err != nil {
		return nil, err
	}
	inner := strings.TrimSpace(s)
	if inner != "" && json.Valid([]byte(inner)) {
		return json.RawMessage(inner), nil
	}
	return trimmed, nil
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
