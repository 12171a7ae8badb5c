package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"novel-guard/internal/model"
	"novel-guard/internal/repository"
)

// MockResultCache is a mock type for the ResultCache type
type MockResultCache struct {
	mock.Mock
}

// Set provides a mock function with given fields: ctx, record
func (_m *MockResultCache) Set(ctx context.Context, record *model.SessionRecord) error {
	ret := _m.Called(ctx, record)
	return ret.Error(0)
}

// Get provides a mock function with given fields: ctx, id
func (_m *MockResultCache) Get(ctx context.Context, id string) (*model.SessionRecord, error) {
	ret := _m.Called(ctx, id)

	var r0 *model.SessionRecord
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*model.SessionRecord)
	}

	return r0, ret.Error(1)
}

// NewMockResultCache creates a new instance of MockResultCache. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
// The first argument is typically a *testing.T value.
func NewMockResultCache(t interface {
	mock.TestingT
	Helper()
}) *MockResultCache {
	m := &MockResultCache{}
	m.Mock.Test(t)
	t.Helper()
	return m
}

var _ repository.ResultCache = (*MockResultCache)(nil)
