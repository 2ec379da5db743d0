package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/zlnvch/whiteboard/models"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) CreateSession(ctx context.Context, session models.Session) (models.Session, error) {
	args := m.Called(ctx, session)
	return args.Get(0).(models.Session), args.Error(1)
}

func (m *MockStore) GetSession(ctx context.Context, sessionId string) (models.Session, error) {
	args := m.Called(ctx, sessionId)
	return args.Get(0).(models.Session), args.Error(1)
}

func (m *MockStore) IncrementSessionActivity(ctx context.Context, sessionId string, strokes int, messages int) error {
	args := m.Called(ctx, sessionId, strokes, messages)
	return args.Error(0)
}

func (m *MockStore) MarkSessionClosed(ctx context.Context, sessionId string, closedAt int64) error {
	args := m.Called(ctx, sessionId, closedAt)
	return args.Error(0)
}
