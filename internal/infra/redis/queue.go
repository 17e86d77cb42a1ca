package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/infra/queue"
)

// claimScript moves up to ARGV[2] due members forward to the new visibility
// deadline and returns {id, body, receives, enqueuedMillis} per message.
var claimScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
local out = {}
for _, id in ipairs(ids) do
	local k = ARGV[4] .. id
	local body = redis.call('HGET', k, 'body')
	if body then
		redis.call('ZADD', KEYS[1], ARGV[3], id)
		local n = redis.call('HINCRBY', k, 'receives', 1)
		local enq = redis.call('HGET', k, 'enqueued')
		table.insert(out, {id, body, n, enq})
	else
		redis.call('ZREM', KEYS[1], id)
	end
end
return out
`)

// Queue is a Redis-backed queue.Queue. The sorted set score is the time in
// milliseconds at which a message becomes visible.
type Queue struct {
	rdb       *redis.Client
	name      string
	readyKey  string
	deadKey   string
	msgPrefix string
	retention time.Duration
	now       func() time.Time
}

// NewQueue creates a named queue on the client.
func NewQueue(client *Client, name string) *Queue {
	// hash tag keeps every key of one queue in the same cluster slot
	base := client.key("queue", "{"+name+"}")
	return &Queue{
		rdb:       client.rdb,
		name:      name,
		readyKey:  base + ":ready",
		deadKey:   base + ":dead",
		msgPrefix: base + ":msg:",
		retention: 14 * 24 * time.Hour,
		now:       time.Now,
	}
}

func (q *Queue) Name() string { return q.name }

func (q *Queue) Send(ctx context.Context, body []byte, delay time.Duration) (string, error) {
	id := uuid.NewString()
	now := q.now()

	pipe := q.rdb.TxPipeline()
	pipe.HSet(ctx, q.msgPrefix+id,
		"body", body,
		"receives", 0,
		"enqueued", now.UnixMilli(),
	)
	pipe.Expire(ctx, q.msgPrefix+id, q.retention)
	pipe.ZAdd(ctx, q.readyKey, redis.Z{
		Score:  float64(now.Add(delay).UnixMilli()),
		Member: id,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("failed to enqueue message: %w", err)
	}
	return id, nil
}

func (q *Queue) Receive(ctx context.Context, max int, visibility time.Duration) ([]queue.Message, error) {
	if max <= 0 {
		max = 10
	}
	now := q.now()

	res, err := claimScript.Run(ctx, q.rdb,
		[]string{q.readyKey},
		now.UnixMilli(),
		max,
		now.Add(visibility).UnixMilli(),
		q.msgPrefix,
	).Slice()
	if err != nil {
		return nil, fmt.Errorf("claim failed: %w", err)
	}

	msgs := make([]queue.Message, 0, len(res))
	for _, item := range res {
		fields, ok := item.([]interface{})
		if !ok || len(fields) != 4 {
			continue
		}
		msg := queue.Message{
			ID:   toString(fields[0]),
			Body: []byte(toString(fields[1])),
		}
		if n, ok := fields[2].(int64); ok {
			msg.Attempt = int(n)
		}
		if ms, err := strconv.ParseInt(toString(fields[3]), 10, 64); err == nil {
			msg.EnqueuedAt = time.UnixMilli(ms)
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

func (q *Queue) Ack(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	members := make([]interface{}, len(ids))
	keys := make([]string, len(ids))
	for i, id := range ids {
		members[i] = id
		keys[i] = q.msgPrefix + id
	}

	pipe := q.rdb.TxPipeline()
	pipe.ZRem(ctx, q.readyKey, members...)
	pipe.Del(ctx, keys...)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to ack messages: %w", err)
	}
	return nil
}

func (q *Queue) Retry(ctx context.Context, id string, delay time.Duration) error {
	n, err := q.rdb.ZAddXX(ctx, q.readyKey, redis.Z{
		Score:  float64(q.now().Add(delay).UnixMilli()),
		Member: id,
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to reschedule message: %w", err)
	}
	// ZADD XX reports 0 for updated members, so check membership separately
	if n == 0 {
		if _, err := q.rdb.ZScore(ctx, q.readyKey, id).Result(); err == redis.Nil {
			return queue.ErrMessageNotFound
		}
	}
	return nil
}

func (q *Queue) DeadLetter(ctx context.Context, id string) error {
	removed, err := q.rdb.ZRem(ctx, q.readyKey, id).Result()
	if err != nil {
		return fmt.Errorf("failed to remove message: %w", err)
	}
	if removed == 0 {
		return queue.ErrMessageNotFound
	}

	pipe := q.rdb.TxPipeline()
	pipe.LPush(ctx, q.deadKey, id)
	pipe.Persist(ctx, q.msgPrefix+id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to dead-letter message: %w", err)
	}
	return nil
}

func (q *Queue) Depth(ctx context.Context) (int64, error) {
	n, err := q.rdb.ZCard(ctx, q.readyKey).Result()
	if err != nil {
		return 0, fmt.Errorf("zcard failed: %w", err)
	}
	return n, nil
}

// DeadLetterCount returns the number of parked messages.
func (q *Queue) DeadLetterCount(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, q.deadKey).Result()
}

func toString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	case int64:
		return strconv.FormatInt(s, 10)
	default:
		return fmt.Sprint(v)
	}
}
