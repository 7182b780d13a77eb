package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"storybook-server/internal/domain"
)

const (
	defaultBookCacheTTL     = 30 * time.Minute
	defaultBookCacheCleanup = 1 * time.Hour
)

// cachedBookRepository кеширует GetByID. Сохраненные книги не меняются.
type cachedBookRepository struct {
	next   BookRepository
	cache  *cache.Cache
	logger *zap.Logger
}

var _ BookRepository = (*cachedBookRepository)(nil)

// NewCachedBookRepository оборачивает репозиторий кешем чтения книг.
func NewCachedBookRepository(next BookRepository, ttl, cleanupInterval time.Duration, logger *zap.Logger) BookRepository {
	if ttl <= 0 {
		ttl = defaultBookCacheTTL
	}
	if cleanupInterval <= 0 {
		cleanupInterval = defaultBookCacheCleanup
	}
	return &cachedBookRepository{
		next:   next,
		cache:  cache.New(ttl, cleanupInterval),
		logger: logger.Named("CachedBookRepo"),
	}
}

func (r *cachedBookRepository) Create(ctx context.Context, book domain.NewBook) (uuid.UUID, error) {
	return r.next.Create(ctx, book)
}

func (r *cachedBookRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.BookWithPages, error) {
	key := id.String()
	if v, ok := r.cache.Get(key); ok {
		if book, ok := v.(*domain.BookWithPages); ok {
			r.logger.Debug("Book cache hit", zap.String("book_id", key))
			return cloneBook(book), nil
		}
	}

	book, err := r.next.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	r.cache.SetDefault(key, cloneBook(book))
	return book, nil
}

func (r *cachedBookRepository) List(ctx context.Context) ([]domain.BookSummary, error) {
	return r.next.List(ctx)
}

// cloneBook копия, чтобы вызывающий код не менял закешированное значение.
func cloneBook(b *domain.BookWithPages) *domain.BookWithPages {
	out := *b
	out.Pages = append([]domain.BookPage(nil), b.Pages...)
	out.Book.Favorites = append([]string(nil), b.Book.Favorites...)
	return &out
}
