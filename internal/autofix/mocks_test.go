// internal/autofix/mocks_test.go
package autofix_test

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/braydenmw/bwmetadata-sub003/api/schemas"
	"github.com/braydenmw/bwmetadata-sub003/internal/autofix"
)

// MockWeights is a mock implementation of WeightResetter.
type MockWeights struct {
	mock.Mock
}

func (m *MockWeights) ResetWeights(ctx context.Context) {
	m.Called(ctx)
}

// MockMemory is a mock implementation of MemoryRecorder.
type MockMemory struct {
	mock.Mock
}

func (m *MockMemory) Remember(ctx context.Context, category string, entry schemas.MemoryEntry) (schemas.MemoryEntry, error) {
	args := m.Called(ctx, category, entry)
	return args.Get(0).(schemas.MemoryEntry), args.Error(1)
}

// MockWatcher is a mock implementation of WatcherInterface.
type MockWatcher struct {
	mock.Mock
}

func (m *MockWatcher) Start(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

var (
	_ autofix.WeightResetter   = (*MockWeights)(nil)
	_ autofix.MemoryRecorder   = (*MockMemory)(nil)
	_ autofix.WatcherInterface = (*MockWatcher)(nil)
)
