package worker

import (
	"context"
	"log"
	"time"

	"github.com/zlnvch/whiteboard/cache"
)

type MemberDelta struct {
	RoomId string
	Joined bool
	// LocalEmpty is set on a leave that emptied the room on this instance.
	LocalEmpty bool
}

// MemberCounter applies room join and leave deltas to the shared member
// counter from a single goroutine, so a leave never overtakes the join it
// follows.
type MemberCounter struct {
	DeltaCh         chan MemberDelta
	whiteboardCache cache.WhiteboardCache
}

func NewMemberCounter(whiteboardCache cache.WhiteboardCache) *MemberCounter {
	return &MemberCounter{
		DeltaCh:         make(chan MemberDelta, 1024),
		whiteboardCache: whiteboardCache,
	}
}

// Record queues a delta without blocking; deltas are dropped when the buffer
// is full and the counter then drifts until its TTL runs out.
func (c *MemberCounter) Record(delta MemberDelta) {
	select {
	case c.DeltaCh <- delta:
	default:
		log.Printf("Member buffer full, dropping delta for room %s", delta.RoomId)
	}
}

const counterTimeout = 2 * time.Second

// Run applies deltas in order until shutdownCtx ends. onEmpty runs when a
// leave brings the room's count across all instances to zero. If the shared
// counter cannot be reached, a leave that emptied the room locally counts.
func (c *MemberCounter) Run(shutdownCtx context.Context, onEmpty func(roomId string)) {
	for {
		select {
		case delta := <-c.DeltaCh:
			if c.apply(delta) && onEmpty != nil {
				onEmpty(delta.RoomId)
			}

		case <-shutdownCtx.Done():
			return
		}
	}
}

func (c *MemberCounter) apply(delta MemberDelta) bool {
	ctx, cancel := context.WithTimeout(context.Background(), counterTimeout)
	defer cancel()

	if delta.Joined {
		if _, err := c.whiteboardCache.IncrementRoomMembers(ctx, delta.RoomId); err != nil {
			log.Printf("Failed to increment members for %s: %v", delta.RoomId, err)
		}
		return false
	}

	count, err := c.whiteboardCache.DecrementRoomMembers(ctx, delta.RoomId)
	if err != nil {
		log.Printf("Failed to decrement members for %s: %v", delta.RoomId, err)
		return delta.LocalEmpty
	}
	return count == 0
}
