package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	// DefaultBookExchange fanout exchange для событий книг.
	DefaultBookExchange = "book_events"

	EventTypeBookCreated = "book.created"
)

// BookCreatedEvent публикуется после сохранения книги.
type BookCreatedEvent struct {
	EventID    string    `json:"event_id"`
	EventType  string    `json:"event_type"`
	BookID     uuid.UUID `json:"book_id"`
	Title      string    `json:"title"`
	Theme      string    `json:"theme"`
	Style      string    `json:"style"`
	Tone       string    `json:"tone"`
	TotalPages int       `json:"total_pages"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NewBookCreatedEvent заполняет служебные поля события.
func NewBookCreatedEvent(bookID uuid.UUID, title, theme, style, tone string, totalPages int) BookCreatedEvent {
	return BookCreatedEvent{
		EventID:    uuid.NewString(),
		EventType:  EventTypeBookCreated,
		BookID:     bookID,
		Title:      title,
		Theme:      theme,
		Style:      style,
		Tone:       tone,
		TotalPages: totalPages,
		OccurredAt: time.Now().UTC(),
	}
}

// BookEventPublisher интерфейс издателя событий книг.
type BookEventPublisher interface {
	PublishBookCreated(ctx context.Context, event BookCreatedEvent) error
}

// RabbitMQBookPublisher публикует события книг в fanout exchange.
type RabbitMQBookPublisher struct {
	ch       *amqp091.Channel
	exchange string
	logger   *zap.Logger
}

var _ BookEventPublisher = (*RabbitMQBookPublisher)(nil)

// NewRabbitMQBookPublisher открывает канал и объявляет exchange.
// Соединение принадлежит вызывающему коду.
func NewRabbitMQBookPublisher(conn *amqp091.Connection, exchange string, logger *zap.Logger) (*RabbitMQBookPublisher, error) {
	if conn == nil {
		return nil, errors.New("rabbitmq connection is nil")
	}
	if exchange == "" {
		exchange = DefaultBookExchange
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchange, // name
		"fanout", // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to declare exchange '%s': %w", exchange, err)
	}

	logger.Info("Book events exchange declared", zap.String("exchange", exchange))
	return &RabbitMQBookPublisher{ch: ch, exchange: exchange, logger: logger.Named("BookPublisher")}, nil
}

// PublishBookCreated публикует событие создания книги.
func (p *RabbitMQBookPublisher) PublishBookCreated(ctx context.Context, event BookCreatedEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal book event: %w", err)
	}

	err = p.ch.PublishWithContext(ctx,
		p.exchange, // exchange
		"",         // routing key (не используется для fanout)
		false,      // mandatory
		false,      // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    event.EventID,
			Type:         event.EventType,
			Timestamp:    event.OccurredAt,
			Body:         body,
		},
	)
	if err != nil {
		p.logger.Error("Failed to publish book event", zap.String("book_id", event.BookID.String()), zap.Error(err))
		return fmt.Errorf("failed to publish book event: %w", err)
	}

	p.logger.Debug("Book event published", zap.String("book_id", event.BookID.String()), zap.String("type", event.EventType))
	return nil
}

// Close закрывает канал RabbitMQ.
func (p *RabbitMQBookPublisher) Close() error {
	if p.ch != nil {
		return p.ch.Close()
	}
	return nil
}

// NoopPublisher используется, когда RabbitMQ не настроен.
type NoopPublisher struct{}

func (NoopPublisher) PublishBookCreated(context.Context, BookCreatedEvent) error { return nil }
