package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"storybook-server/internal/domain"
	"storybook-server/pkg/database"
)

// BookRepository хранилище сохраненных книг.
type BookRepository interface {
	// Create сохраняет книгу и все ее страницы атомарно.
	Create(ctx context.Context, book domain.NewBook) (uuid.UUID, error)
	// GetByID возвращает книгу со страницами по возрастанию номера.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.BookWithPages, error)
	// List возвращает книги, новые первыми.
	List(ctx context.Context) ([]domain.BookSummary, error)
}

// DBTX общий интерфейс для пула и транзакции pgx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Begin(ctx context.Context) (pgx.Tx, error)
}

const (
	insertBookQuery = `
        INSERT INTO books
            (title, theme, style, tone, child_name, favorites, lesson_of_the_day,
             total_pages, character_sheet, outline)
        VALUES
            ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        RETURNING id
    `
	insertPageQuery = `
        INSERT INTO pages (book_id, page_number, text, image_url, image_prompt)
        VALUES ($1, $2, $3, $4, $5)
    `
	selectBookQuery = `
        SELECT id, title, theme, style, tone, child_name, favorites, lesson_of_the_day,
               total_pages, character_sheet, outline, created_at, updated_at
        FROM books
        WHERE id = $1
    `
	selectPagesQuery = `
        SELECT id, book_id, page_number, text, image_url, image_prompt, created_at
        FROM pages
        WHERE book_id = $1
        ORDER BY page_number ASC
    `
	listBooksQuery = `
        SELECT id, title, theme, style, tone, total_pages, created_at
        FROM books
        ORDER BY created_at DESC
    `
)

type pgBookRepository struct {
	db     DBTX
	logger *zap.Logger
}

var _ BookRepository = (*pgBookRepository)(nil)

// NewPgBookRepository создает репозиторий книг поверх PostgreSQL.
func NewPgBookRepository(db DBTX, logger *zap.Logger) BookRepository {
	return &pgBookRepository{
		db:     db,
		logger: logger.Named("PgBookRepo"),
	}
}

// Create вставляет книгу и страницы в одной транзакции. Страницы уходят одним батчем.
func (r *pgBookRepository) Create(ctx context.Context, book domain.NewBook) (uuid.UUID, error) {
	favorites := book.Favorites
	if favorites == nil {
		favorites = []string{}
	}

	var bookID uuid.UUID
	err := database.ExecuteInTransaction(ctx, r.db, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, insertBookQuery,
			book.Title, book.Theme, book.Style, book.Tone,
			book.ChildName, favorites, book.LessonOfTheDay,
			book.TotalPages, jsonbArg(book.CharacterSheet), jsonbArg(book.Outline),
		).Scan(&bookID)
		if err != nil {
			return fmt.Errorf("insert book: %w", err)
		}

		if len(book.Pages) == 0 {
			return nil
		}

		batch := &pgx.Batch{}
		for _, p := range book.Pages {
			batch.Queue(insertPageQuery, bookID, p.PageNumber, p.Text, p.ImageURL, p.ImagePrompt)
		}
		br := tx.SendBatch(ctx, batch)
		for _, p := range book.Pages {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return fmt.Errorf("insert page %d: %w", p.PageNumber, err)
			}
		}
		return br.Close()
	})
	if err != nil {
		r.logger.Error("Failed to create book", zap.String("title", book.Title), zap.Int("pages", len(book.Pages)), zap.Error(err))
		return uuid.Nil, &domain.PersistenceError{Op: "create book", Err: err}
	}

	r.logger.Info("Book created", zap.String("book_id", bookID.String()), zap.Int("pages", len(book.Pages)))
	return bookID, nil
}

// GetByID возвращает книгу и страницы. Отсутствующая книга дает domain.ErrNotFound.
func (r *pgBookRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.BookWithPages, error) {
	logFields := []zap.Field{zap.String("book_id", id.String())}

	var book domain.Book
	if err := pgxscan.Get(ctx, r.db, &book, selectBookQuery, id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			r.logger.Debug("Book not found", logFields...)
			return nil, fmt.Errorf("%w: book %s", domain.ErrNotFound, id)
		}
		r.logger.Error("Failed to get book", append(logFields, zap.Error(err))...)
		return nil, &domain.PersistenceError{Op: "get book", Err: err}
	}

	pages := make([]domain.BookPage, 0, book.TotalPages)
	if err := pgxscan.Select(ctx, r.db, &pages, selectPagesQuery, id); err != nil {
		r.logger.Error("Failed to get book pages", append(logFields, zap.Error(err))...)
		return nil, &domain.PersistenceError{Op: "get book pages", Err: err}
	}

	return &domain.BookWithPages{Book: book, Pages: pages}, nil
}

// List возвращает краткие записи всех книг.
func (r *pgBookRepository) List(ctx context.Context) ([]domain.BookSummary, error) {
	books := make([]domain.BookSummary, 0)
	if err := pgxscan.Select(ctx, r.db, &books, listBooksQuery); err != nil {
		r.logger.Error("Failed to list books", zap.Error(err))
		return nil, &domain.PersistenceError{Op: "list books", Err: err}
	}
	return books, nil
}

// jsonbArg пустое значение пишется как NULL.
func jsonbArg(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
