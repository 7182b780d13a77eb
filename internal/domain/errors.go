package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("resource not found")

	// Completion Gateway
	ErrEmptyCompletion = errors.New("no content returned from completion provider")
	ErrEmptyImage      = errors.New("no image returned from image provider")

	// Runs
	ErrRunNotFound    = errors.New("generation run not found")
	ErrRunNotComplete = errors.New("generation run is not complete")
	ErrRunLimit       = errors.New("too many active generation runs")
	ErrRunDiscarded   = errors.New("generation run discarded")
)

// ValidationError некорректные входные данные. Этап не выполняется.
type ValidationError struct {
	Op      string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Op == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// ProviderError провайдер не вернул пригодный результат или сетевой вызов упал.
type ProviderError struct {
	Op      string
	Message string
	Err     error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// ParseError вывод этапа не удалось декодировать.
type ParseError struct {
	Stage   string
	Message string
	Err     error
}

func (e *ParseError) Error() string { return e.Message }

func (e *ParseError) Unwrap() error { return e.Err }

// PersistenceError хранилище отклонило запись или не смогло ее выполнить.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// NewValidationError оборачивает ошибку валидации с понятным сообщением.
func NewValidationError(op string, err error) *ValidationError {
	return &ValidationError{Op: op, Message: err.Error(), Err: err}
}

// NewProviderError оборачивает ошибку провайдера.
func NewProviderError(op, message string, err error) *ProviderError {
	return &ProviderError{Op: op, Message: message, Err: err}
}
