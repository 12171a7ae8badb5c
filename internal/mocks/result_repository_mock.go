package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"novel-guard/internal/model"
	"novel-guard/internal/repository"
)

// MockResultRepository is a mock type for the ResultRepository type
type MockResultRepository struct {
	mock.Mock
}

// Save provides a mock function with given fields: ctx, record
func (_m *MockResultRepository) Save(ctx context.Context, record *model.SessionRecord) error {
	ret := _m.Called(ctx, record)
	return ret.Error(0)
}

// GetByID provides a mock function with given fields: ctx, id
func (_m *MockResultRepository) GetByID(ctx context.Context, id string) (*model.SessionRecord, error) {
	ret := _m.Called(ctx, id)

	var r0 *model.SessionRecord
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*model.SessionRecord)
	}

	return r0, ret.Error(1)
}

// ListByUser provides a mock function with given fields: ctx, userID, limit
func (_m *MockResultRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*model.SessionRecord, error) {
	ret := _m.Called(ctx, userID, limit)

	var r0 []*model.SessionRecord
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]*model.SessionRecord)
	}

	return r0, ret.Error(1)
}

// NewMockResultRepository creates a new instance of MockResultRepository. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
// The first argument is typically a *testing.T value.
func NewMockResultRepository(t interface {
	mock.TestingT
	Helper()
}) *MockResultRepository {
	m := &MockResultRepository{}
	m.Mock.Test(t)
	t.Helper()
	return m
}

var _ repository.ResultRepository = (*MockResultRepository)(nil)
