package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue is an outbox of notifications. Each recipient has a capped
// list; messages to the pending queue go to a shared list and are also
// published on a channel for live listeners.
type RedisQueue struct {
	client *redis.Client
	prefix string
	limit  int64
}

func NewRedisQueue(redisURL string) (*RedisQueue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisQueueWithClient(client), nil
}

func NewRedisQueueWithClient(client *redis.Client) *RedisQueue {
	return &RedisQueue{
		client: client,
		prefix: "oi:notify:",
		limit:  200,
	}
}

func (q *RedisQueue) key(userID int64) string {
	if userID == 0 {
		return q.prefix + "pending"
	}
	return q.prefix + "user:" + strconv.FormatInt(userID, 10)
}

func (q *RedisQueue) channel() string {
	return q.prefix + "events"
}

func (q *RedisQueue) Send(ctx context.Context, msg Message) error {
	msg = Stamp(msg)
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	key := q.key(msg.UserID)
	pipe := q.client.TxPipeline()
	pipe.LPush(ctx, key, payload)
	pipe.LTrim(ctx, key, 0, q.limit-1)
	if msg.UserID == 0 {
		pipe.Publish(ctx, q.channel(), payload)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue notification: %w", err)
	}
	return nil
}

// Inbox returns up to n of the newest messages for userID, newest first.
func (q *RedisQueue) Inbox(ctx context.Context, userID int64, n int64) ([]Message, error) {
	if n <= 0 {
		n = q.limit
	}
	raw, err := q.client.LRange(ctx, q.key(userID), 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("read inbox: %w", err)
	}
	out := make([]Message, 0, len(raw))
	for _, item := range raw {
		var msg Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			return nil, fmt.Errorf("unmarshal notification: %w", err)
		}
		out = append(out, msg)
	}
	return out, nil
}

// Pop removes and returns the oldest message for userID. ok is false when
// the inbox is empty.
func (q *RedisQueue) Pop(ctx context.Context, userID int64) (Message, bool, error) {
	raw, err := q.client.RPop(ctx, q.key(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return Message{}, false, nil
	}
	if err != nil {
		return Message{}, false, fmt.Errorf("pop notification: %w", err)
	}
	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return Message{}, false, fmt.Errorf("unmarshal notification: %w", err)
	}
	return msg, true, nil
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}

func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}
