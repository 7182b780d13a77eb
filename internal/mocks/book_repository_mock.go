package mocks

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"storybook-server/internal/domain"
	"storybook-server/internal/repository"
)

// MockBookRepository is a mock type for the BookRepository type
type MockBookRepository struct {
	mock.Mock
}

// Create provides a mock function with given fields: ctx, book
func (_m *MockBookRepository) Create(ctx context.Context, book domain.NewBook) (uuid.UUID, error) {
	ret := _m.Called(ctx, book)

	var r0 uuid.UUID
	if rf, ok := ret.Get(0).(func(context.Context, domain.NewBook) uuid.UUID); ok {
		r0 = rf(ctx, book)
	} else if ret.Get(0) != nil {
		r0 = ret.Get(0).(uuid.UUID)
	}

	return r0, ret.Error(1)
}

// GetByID provides a mock function with given fields: ctx, id
func (_m *MockBookRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.BookWithPages, error) {
	ret := _m.Called(ctx, id)

	var r0 *domain.BookWithPages
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*domain.BookWithPages)
	}

	return r0, ret.Error(1)
}

// List provides a mock function with given fields: ctx
func (_m *MockBookRepository) List(ctx context.Context) ([]domain.BookSummary, error) {
	ret := _m.Called(ctx)

	var r0 []domain.BookSummary
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]domain.BookSummary)
	}

	return r0, ret.Error(1)
}

// NewMockBookRepository creates a new instance of MockBookRepository. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
func NewMockBookRepository(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockBookRepository {
	m := &MockBookRepository{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}

var _ repository.BookRepository = (*MockBookRepository)(nil)
