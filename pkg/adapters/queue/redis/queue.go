// Package redis is a VisitQueue on Redis with visibility timeouts.
//
// Layout per queue name:
//
//	<name>:msgs      hash  id -> body
//	<name>:ready     list  ids waiting for a receiver
//	<name>:inflight  zset  id -> visibility deadline (unix ms)
//	<name>:count     hash  id -> dequeue count, also the delete receipt
package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/wadjakorntonsri/go-url-redirector/pkg/ports"
)

// receiveScript requeues expired in-flight ids, then pops up to ARGV[3] ready ids.
// Returns a flat list of id, body, dequeueCount triples.
var receiveScript = redis.NewScript(`
local ready, inflight, msgs, counts = KEYS[1], KEYS[2], KEYS[3], KEYS[4]
local now, deadline, max = ARGV[1], ARGV[2], tonumber(ARGV[3])

local expired = redis.call("ZRANGEBYSCORE", inflight, "-inf", now)
for _, id in ipairs(expired) do
    redis.call("ZREM", inflight, id)
    redis.call("LPUSH", ready, id)
end

local out = {}
local taken = 0
while taken < max do
    local id = redis.call("LPOP", ready)
    if not id then break end
    local body = redis.call("HGET", msgs, id)
    if body then
        redis.call("ZADD", inflight, deadline, id)
        local n = redis.call("HINCRBY", counts, id, 1)
        table.insert(out, id)
        table.insert(out, body)
        table.insert(out, n)
        taken = taken + 1
    end
end
return out
`)

// deleteScript removes a message only if the receipt still matches its dequeue count
var deleteScript = redis.NewScript(`
local ready, inflight, msgs, counts = KEYS[1], KEYS[2], KEYS[3], KEYS[4]
local id, receipt = ARGV[1], ARGV[2]

local n = redis.call("HGET", counts, id)
if n ~= receipt then
    return 0
end
redis.call("ZREM", inflight, id)
redis.call("HDEL", msgs, id)
redis.call("HDEL", counts, id)
redis.call("LREM", ready, 0, id)
return 1
`)

type Queue struct {
	rdb  redis.UniversalClient
	keys []string
	now  func() time.Time
}

var _ ports.VisitQueue = (*Queue)(nil)

// New uses an existing client. The caller keeps ownership of rdb unless Close is called.
func New(rdb redis.UniversalClient, name string) *Queue {
	return &Queue{
		rdb:  rdb,
		keys: []string{name + ":ready", name + ":inflight", name + ":msgs", name + ":count"},
		now:  time.Now,
	}
}

// NewFromURL parses a redis:// URL, connects and pings
func NewFromURL(ctx context.Context, url, name string) (*Queue, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return New(rdb, name), nil
}

func (q *Queue) Send(ctx context.Context, body []byte) error {
	id := uuid.New().String()
	_, err := q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, q.keys[2], id, body)
		pipe.RPush(ctx, q.keys[0], id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis send: %w", err)
	}
	return nil
}

func (q *Queue) Receive(ctx context.Context, max int, visibility time.Duration) ([]ports.QueueMessage, error) {
	now := q.now()
	res, err := receiveScript.Run(ctx, q.rdb, q.keys,
		now.UnixMilli(), now.Add(visibility).UnixMilli(), max,
	).Slice()
	if err != nil {
		return nil, fmt.Errorf("redis receive: %w", err)
	}

	msgs := make([]ports.QueueMessage, 0, len(res)/3)
	for i := 0; i+2 < len(res); i += 3 {
		id, _ := res[i].(string)
		body, _ := res[i+1].(string)
		n, _ := res[i+2].(int64)
		msgs = append(msgs, ports.QueueMessage{
			ID:           id,
			Body:         []byte(body),
			DequeueCount: int(n),
			Handle:       strconv.FormatInt(n, 10),
		})
	}
	return msgs, nil
}

func (q *Queue) Delete(ctx context.Context, msg ports.QueueMessage) error {
	receipt, _ := msg.Handle.(string)
	if err := deleteScript.Run(ctx, q.rdb, q.keys, msg.ID, receipt).Err(); err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	return nil
}

// Len returns the number of stored messages
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.rdb.HLen(ctx, q.keys[2]).Result()
}

func (q *Queue) Close() error {
	return q.rdb.Close()
}
