package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/zlnvch/whiteboard/mq"
	"github.com/zlnvch/whiteboard/store"
)

// RoomClosedMessage is queued when the last local member leaves a room.
type RoomClosedMessage struct {
	RoomId   string `json:"roomId"`
	ClosedAt int64  `json:"closedAt"`
	Instance string `json:"instance"`
}

type MQConsumer struct {
	roomClosedQueue mq.MessageQueue
	whiteboardStore store.WhiteboardStore
}

func NewMQConsumer(roomClosedQueue mq.MessageQueue, whiteboardStore store.WhiteboardStore) *MQConsumer {
	return &MQConsumer{
		roomClosedQueue: roomClosedQueue,
		whiteboardStore: whiteboardStore,
	}
}

const visibilityTimeout = 30

func (mqConsumer *MQConsumer) Run(shutdownCtx context.Context) {
	for {
		msg, err := mqConsumer.roomClosedQueue.Receive(shutdownCtx, visibilityTimeout)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			log.Printf("mqConsumer receive error: %v", err)
			continue
		}

		if msg == nil {
			if shutdownCtx.Err() != nil {
				return
			}
			continue
		}

		mqConsumer.handle(msg)
	}
}

func (mqConsumer *MQConsumer) handle(msg *mq.Message) {
	var closedMsg RoomClosedMessage
	if err := json.Unmarshal([]byte(msg.Body), &closedMsg); err != nil || closedMsg.RoomId == "" {
		log.Printf("Discarding malformed room-closed message: %q", msg.Body)
		mqConsumer.delete(msg)
		return
	}

	// timeout should be a little less than queue visibility timeout
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(visibilityTimeout-1)*time.Second)
	defer cancel()

	err := mqConsumer.whiteboardStore.MarkSessionClosed(ctx, closedMsg.RoomId, closedMsg.ClosedAt)
	if err != nil && !errors.Is(err, store.ErrItemNotFound) {
		// Leave the message on the queue so it is redelivered
		log.Printf("Failed to mark session %s closed: %v", closedMsg.RoomId, err)
		return
	}

	mqConsumer.delete(msg)
}

func (mqConsumer *MQConsumer) delete(msg *mq.Message) {
	if err := mqConsumer.roomClosedQueue.Delete(context.Background(), msg); err != nil {
		log.Printf("mqConsumer delete error: %v", err)
	}
}
