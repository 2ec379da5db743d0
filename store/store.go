package store

import (
	"context"
	"errors"

	"github.com/zlnvch/whiteboard/models"
)

// WhiteboardStore keeps the session directory. It never holds drawing state.
type WhiteboardStore interface {
	CreateSession(ctx context.Context, session models.Session) (models.Session, error)
	GetSession(ctx context.Context, sessionId string) (models.Session, error)
	IncrementSessionActivity(ctx context.Context, sessionId string, strokes int, messages int) error
	MarkSessionClosed(ctx context.Context, sessionId string, closedAt int64) error
}

var (
	ErrItemNotFound    = errors.New("item does not exist")
	ErrConditionFailed = errors.New("condition not met")
)
