package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	redis "github.com/redis/go-redis/v9"

	"pmworker/internal/pmworker"
)

// Redis keeps the queue in three keys under a namespace:
//
//	{ns}:offline:order     list of ids, enqueue order
//	{ns}:offline:actions   hash id -> json(OfflineAction)
//	{ns}:offline:attempts  hash id -> failed replay count
type Redis struct {
	client    *redis.Client
	Namespace string
}

func OpenRedis(ctx context.Context, dsn, namespace string) (*Redis, error) {
	opts, err := redis.ParseURL(dsn)
	if err != nil {
		opts = &redis.Options{Addr: dsn}
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedis(client, namespace), nil
}

func NewRedis(client *redis.Client, namespace string) *Redis {
	return &Redis{client: client, Namespace: namespace}
}

func (q *Redis) key(parts ...string) string {
	return strings.Join(append([]string{q.Namespace, "offline"}, parts...), ":")
}

// enqueueScript stores the action and appends its id in one step, so an id
// is never in the hash without also being in the order list.
var enqueueScript = redis.NewScript(`
if redis.call("HSETNX", KEYS[1], ARGV[1], ARGV[2]) == 0 then
  return 0
end
redis.call("RPUSH", KEYS[2], ARGV[1])
return 1
`)

func (q *Redis) Enqueue(ctx context.Context, a pmworker.OfflineAction) (string, error) {
	a, err := prepare(a)
	if err != nil {
		return "", err
	}
	b, err := json.Marshal(a)
	if err != nil {
		return "", err
	}
	added, err := enqueueScript.Run(ctx, q.client, []string{q.key("actions"), q.key("order")}, a.ID, string(b)).Int()
	if err != nil {
		return "", err
	}
	if added == 0 {
		return "", fmt.Errorf("offline action %s already queued", a.ID)
	}
	return a.ID, nil
}

func (q *Redis) List(ctx context.Context) ([]pmworker.OfflineAction, error) {
	ids, err := q.client.LRange(ctx, q.key("order"), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	payloads, err := q.client.HMGet(ctx, q.key("actions"), ids...).Result()
	if err != nil {
		return nil, err
	}
	attempts, err := q.client.HMGet(ctx, q.key("attempts"), ids...).Result()
	if err != nil {
		return nil, err
	}

	out := make([]pmworker.OfflineAction, 0, len(ids))
	for i, raw := range payloads {
		s, ok := raw.(string)
		if !ok {
			// removed between LRANGE and HMGET
			continue
		}
		var a pmworker.OfflineAction
		if err := json.Unmarshal([]byte(s), &a); err != nil {
			return nil, fmt.Errorf("decode queued action %s: %w", ids[i], err)
		}
		if n, ok := attempts[i].(string); ok {
			a.Attempts, _ = strconv.Atoi(n)
		}
		out = append(out, a)
	}
	return out, nil
}

func (q *Redis) Remove(ctx context.Context, id string) error {
	var del *redis.IntCmd
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.HDel(ctx, q.key("actions"), id)
		pipe.HDel(ctx, q.key("attempts"), id)
		pipe.LRem(ctx, q.key("order"), 0, id)
		return nil
	})
	if err != nil {
		return err
	}
	if del.Val() == 0 {
		return fmt.Errorf("offline action %s: %w", id, pmworker.ErrNotFound)
	}
	return nil
}

func (q *Redis) RecordFailure(ctx context.Context, id string) (int, error) {
	exists, err := q.client.HExists(ctx, q.key("actions"), id).Result()
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, fmt.Errorf("offline action %s: %w", id, pmworker.ErrNotFound)
	}
	n, err := q.client.HIncrBy(ctx, q.key("attempts"), id, 1).Result()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (q *Redis) Close() error { return q.client.Close() }
