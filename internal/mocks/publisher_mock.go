package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"storybook-server/internal/messaging"
)

// MockBookEventPublisher is a mock type for the BookEventPublisher type
type MockBookEventPublisher struct {
	mock.Mock
}

// PublishBookCreated provides a mock function with given fields: ctx, event
func (_m *MockBookEventPublisher) PublishBookCreated(ctx context.Context, event messaging.BookCreatedEvent) error {
	ret := _m.Called(ctx, event)
	return ret.Error(0)
}

// NewMockBookEventPublisher creates a new instance of MockBookEventPublisher.
func NewMockBookEventPublisher(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockBookEventPublisher {
	m := &MockBookEventPublisher{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}

var _ messaging.BookEventPublisher = (*MockBookEventPublisher)(nil)

// MockImageOffloader is a mock type for the ImageOffloader type
type MockImageOffloader struct {
	mock.Mock
}

// StoreDataURI provides a mock function with given fields: ctx, keyPrefix, dataURI
func (_m *MockImageOffloader) StoreDataURI(ctx context.Context, keyPrefix string, dataURI string) (string, error) {
	ret := _m.Called(ctx, keyPrefix, dataURI)
	return ret.String(0), ret.Error(1)
}

// NewMockImageOffloader creates a new instance of MockImageOffloader.
func NewMockImageOffloader(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockImageOffloader {
	m := &MockImageOffloader{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}
