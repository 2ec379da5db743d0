package cache

import "context"

type WhiteboardCache interface {
	Publish(ctx context.Context, channel string, message []byte) error
	Subscribe(ctx context.Context, channel string, handler func(message []byte)) error

	IncrementRoomMembers(ctx context.Context, roomId string) (int64, error)
	DecrementRoomMembers(ctx context.Context, roomId string) (int64, error)
	GetRoomMembers(ctx context.Context, roomId string) (int64, error)
}
