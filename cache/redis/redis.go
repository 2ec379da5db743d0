package redis

import (
	"context"
	"crypto/tls"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisWhiteboardCache struct {
	client redis.UniversalClient
}

func NewRedisWhiteboardCache(ctx context.Context, devMode bool, redisEndpoint string) (*RedisWhiteboardCache, error) {
	var client redis.UniversalClient
	if devMode {
		client = redis.NewClient(&redis.Options{
			Addr: redisEndpoint,
		})
	} else {
		client = redis.NewClient(&redis.Options{
			Addr: redisEndpoint,
			// AWS elasticache endpoints require TLS
			TLSConfig: &tls.Config{},
		})
	}

	err := client.Ping(ctx).Err()
	if err != nil {
		return nil, err
	}

	return &RedisWhiteboardCache{client: client}, nil
}

func (redisCache *RedisWhiteboardCache) Publish(ctx context.Context, channel string, message []byte) error {
	return redisCache.client.Publish(ctx, channel, message).Err()
}

const subscribeTimeout = 2 * time.Second

// Subscribe delivers messages on channel to handler from a single goroutine,
// so messages published by one connection arrive in publish order. ctx bounds
// the subscription's lifetime; setting it up is capped by subscribeTimeout.
func (redisCache *RedisWhiteboardCache) Subscribe(ctx context.Context, channel string, handler func(message []byte)) error {
	setupCtx, cancel := context.WithTimeout(ctx, subscribeTimeout)
	defer cancel()

	pubsub := redisCache.client.Subscribe(setupCtx, channel)
	// Ensure subscription is established
	if _, err := pubsub.Receive(setupCtx); err != nil {
		pubsub.Close()
		log.Printf("Pubsub channel closed: %s", channel)
		return err
	}

	ch := pubsub.Channel()

	go func() {
		defer pubsub.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				handler([]byte(msg.Payload))
			}
		}
	}()

	return nil
}

func buildRoomMembersKey(roomId string) string {
	return "room:{" + roomId + "}:members"
}

// Member counters outlive a crashed instance only until the TTL runs out.
const membersTTL = 30 * time.Minute

func (redisCache *RedisWhiteboardCache) IncrementRoomMembers(ctx context.Context, roomId string) (int64, error) {
	key := buildRoomMembersKey(roomId)
	pipe := redisCache.client.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, membersTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (redisCache *RedisWhiteboardCache) DecrementRoomMembers(ctx context.Context, roomId string) (int64, error) {
	key := buildRoomMembersKey(roomId)
	count, err := redisCache.client.Decr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if count <= 0 {
		redisCache.client.Del(ctx, key)
		return 0, nil
	}
	redisCache.client.Expire(ctx, key, membersTTL)
	return count, nil
}

func (redisCache *RedisWhiteboardCache) GetRoomMembers(ctx context.Context, roomId string) (int64, error) {
	val, err := redisCache.client.Get(ctx, buildRoomMembersKey(roomId)).Int64()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, err
	}
	return val, nil
}
