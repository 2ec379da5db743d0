package worker

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/zlnvch/whiteboard/store"
)

type ActivityUpdate struct {
	SessionId string
	Strokes   int
	Messages  int
}

type activityCounts struct {
	strokes  int
	messages int
}

// ActivityBatcher sums relayed strokes and chat messages per session and
// writes them to the store on a timer, so the hot path never waits on it.
type ActivityBatcher struct {
	UpdateCh           chan ActivityUpdate
	whiteboardStore    store.WhiteboardStore
	tickerMilliseconds int
}

func NewActivityBatcher(whiteboardStore store.WhiteboardStore, tickerMilliseconds int) *ActivityBatcher {
	return &ActivityBatcher{
		UpdateCh:           make(chan ActivityUpdate, 1024),
		whiteboardStore:    whiteboardStore,
		tickerMilliseconds: tickerMilliseconds,
	}
}

// Record queues an update without blocking; updates are dropped when the
// buffer is full.
func (b *ActivityBatcher) Record(update ActivityUpdate) {
	select {
	case b.UpdateCh <- update:
	default:
		log.Printf("Activity buffer full, dropping update for session %s", update.SessionId)
	}
}

func (b *ActivityBatcher) Run(shutdownCtx context.Context) {
	ticker := time.NewTicker(time.Duration(b.tickerMilliseconds) * time.Millisecond)
	defer ticker.Stop()

	pending := make(map[string]activityCounts)

	flush := func() {
		for sessionId, counts := range pending {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := b.whiteboardStore.IncrementSessionActivity(ctx, sessionId, counts.strokes, counts.messages)
			cancel()
			if err != nil && !errors.Is(err, store.ErrItemNotFound) {
				log.Printf("Failed to update activity for session %s: %v", sessionId, err)
			}
		}
		clear(pending)
	}

	for {
		select {
		case update := <-b.UpdateCh:
			if update.SessionId == "" {
				continue
			}
			counts := pending[update.SessionId]
			counts.strokes += update.Strokes
			counts.messages += update.Messages
			pending[update.SessionId] = counts

			if len(pending) >= 100 {
				flush()
			}

		case <-ticker.C:
			flush()

		case <-shutdownCtx.Done():
			flush()
			return
		}
	}
}
