package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/catalog-sync/internal/products"
)

const (
	ledgerPrefix    = "catalog:pass:"
	ledgerBatchSize = 1000
)

// completeScript marks a chunk done and, only on its first completion,
// folds its processed ids and counters into the pass. It returns
// {first, remaining}, or {-1, 0} when the pass is unknown.
var completeScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return {-1, 0}
end
local first = redis.call('SADD', KEYS[2], ARGV[1])
if first == 1 then
  for i = 6, #ARGV do
    redis.call('SADD', KEYS[3], ARGV[i])
  end
  redis.call('HINCRBY', KEYS[1], 'processed_rows', ARGV[2])
  redis.call('HINCRBY', KEYS[1], 'rejected_rows', ARGV[3])
  redis.call('HINCRBY', KEYS[1], 'failed_rows', ARGV[4])
end
local ttl = tonumber(ARGV[5])
redis.call('EXPIRE', KEYS[2], ttl)
if redis.call('EXISTS', KEYS[3]) == 1 then
  redis.call('EXPIRE', KEYS[3], ttl)
end
local total = tonumber(redis.call('HGET', KEYS[1], 'chunks') or '0')
local remaining = total - redis.call('SCARD', KEYS[2])
if remaining < 0 then
  remaining = 0
end
return {first, remaining}
`)

// RedisLedger stores pass state in Redis so chunk tasks running on any
// worker contribute to the same pass. Keys expire after ttl.
type RedisLedger struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisLedger constructs a ledger on client.
func NewRedisLedger(client *redis.Client, ttl time.Duration) *RedisLedger {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisLedger{client: client, ttl: ttl}
}

func passKey(id uuid.UUID, part string) string {
	return ledgerPrefix + id.String() + ":" + part
}

func (l *RedisLedger) Open(ctx context.Context, pass Pass, existing products.IDSet) error {
	metaKey := passKey(pass.ID, "meta")
	existingKey := passKey(pass.ID, "existing")
	ids := existing.Sorted()
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, metaKey, existingKey, passKey(pass.ID, "done"), passKey(pass.ID, "processed"), passKey(pass.ID, "claims"))
		pipe.HSet(ctx, metaKey,
			"source", string(pass.Source),
			"started_at", pass.StartedAt.UTC().Format(time.RFC3339Nano),
			"chunks", pass.Chunks,
			"processed_rows", 0,
			"rejected_rows", 0,
			"failed_rows", 0,
		)
		for start := 0; start < len(ids); start += ledgerBatchSize {
			end := min(start+ledgerBatchSize, len(ids))
			members := make([]interface{}, 0, end-start)
			for _, id := range ids[start:end] {
				members = append(members, id)
			}
			pipe.SAdd(ctx, existingKey, members...)
		}
		pipe.Expire(ctx, metaKey, l.ttl)
		pipe.Expire(ctx, existingKey, l.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("reconcile: open pass: %w", err)
	}
	return nil
}

func (l *RedisLedger) Pass(ctx context.Context, id uuid.UUID) (Pass, error) {
	meta, err := l.client.HGetAll(ctx, passKey(id, "meta")).Result()
	if err != nil {
		return Pass{}, fmt.Errorf("reconcile: load pass: %w", err)
	}
	return decodePass(id, meta)
}

func decodePass(id uuid.UUID, meta map[string]string) (Pass, error) {
	if len(meta) == 0 {
		return Pass{}, ErrPassNotFound
	}
	pass := Pass{ID: id, Source: Source(meta["source"])}
	if raw := meta["started_at"]; raw != "" {
		started, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return Pass{}, fmt.Errorf("reconcile: decode pass: %w", err)
		}
		pass.StartedAt = started
	}
	chunks, err := strconv.Atoi(meta["chunks"])
	if err != nil {
		return Pass{}, fmt.Errorf("reconcile: decode pass: %w", err)
	}
	pass.Chunks = chunks
	return pass, nil
}

func (l *RedisLedger) Existing(ctx context.Context, id uuid.UUID) (products.IDSet, error) {
	if err := l.exists(ctx, id); err != nil {
		return nil, err
	}
	return l.members(ctx, passKey(id, "existing"))
}

func (l *RedisLedger) Complete(ctx context.Context, id uuid.UUID, result ChunkResult) (int, error) {
	keys := []string{passKey(id, "meta"), passKey(id, "done"), passKey(id, "processed")}
	args := make([]interface{}, 0, 5+len(result.Processed))
	args = append(args,
		result.Index,
		result.Counts.Processed,
		result.Counts.Rejected,
		result.Counts.Failed,
		int64(l.ttl/time.Second),
	)
	for _, pid := range result.Processed {
		args = append(args, pid)
	}
	out, err := completeScript.Run(ctx, l.client, keys, args...).Int64Slice()
	if err != nil {
		return 0, fmt.Errorf("reconcile: complete chunk %d: %w", result.Index, err)
	}
	if len(out) != 2 {
		return 0, fmt.Errorf("reconcile: complete chunk %d: unexpected reply %v", result.Index, out)
	}
	if out[0] < 0 {
		return 0, ErrPassNotFound
	}
	return int(out[1]), nil
}

func (l *RedisLedger) Processed(ctx context.Context, id uuid.UUID) (products.IDSet, error) {
	if err := l.exists(ctx, id); err != nil {
		return nil, err
	}
	return l.members(ctx, passKey(id, "processed"))
}

func (l *RedisLedger) Progress(ctx context.Context, id uuid.UUID) (Progress, error) {
	var (
		metaCmd   *redis.MapStringStringCmd
		doneCmd   *redis.IntCmd
		claimsCmd *redis.IntCmd
	)
	_, err := l.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		metaCmd = pipe.HGetAll(ctx, passKey(id, "meta"))
		doneCmd = pipe.SCard(ctx, passKey(id, "done"))
		claimsCmd = pipe.SCard(ctx, passKey(id, "claims"))
		return nil
	})
	if err != nil {
		return Progress{}, fmt.Errorf("reconcile: load progress: %w", err)
	}
	meta := metaCmd.Val()
	pass, err := decodePass(id, meta)
	if err != nil {
		return Progress{}, err
	}
	done := int(doneCmd.Val())
	return Progress{
		Pass:      pass,
		Completed: done,
		Remaining: remaining(pass.Chunks, done),
		Counts: Counts{
			Processed: atoi(meta["processed_rows"]),
			Rejected:  atoi(meta["rejected_rows"]),
			Failed:    atoi(meta["failed_rows"]),
		},
		Notified: int(claimsCmd.Val()),
	}, nil
}

func (l *RedisLedger) Claim(ctx context.Context, id uuid.UUID, key string) (bool, error) {
	claimsKey := passKey(id, "claims")
	var added *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		added = pipe.SAdd(ctx, claimsKey, key)
		pipe.Expire(ctx, claimsKey, l.ttl)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("reconcile: claim %s: %w", key, err)
	}
	return added.Val() == 1, nil
}

func (l *RedisLedger) Close(ctx context.Context, id uuid.UUID) error {
	err := l.client.Del(ctx,
		passKey(id, "meta"),
		passKey(id, "existing"),
		passKey(id, "done"),
		passKey(id, "processed"),
		passKey(id, "claims"),
	).Err()
	if err != nil {
		return fmt.Errorf("reconcile: close pass: %w", err)
	}
	return nil
}

func (l *RedisLedger) exists(ctx context.Context, id uuid.UUID) error {
	n, err := l.client.Exists(ctx, passKey(id, "meta")).Result()
	if err != nil {
		return fmt.Errorf("reconcile: load pass: %w", err)
	}
	if n == 0 {
		return ErrPassNotFound
	}
	return nil
}

func (l *RedisLedger) members(ctx context.Context, key string) (products.IDSet, error) {
	raw, err := l.client.SMembers(ctx, key).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("reconcile: read %s: %w", key, err)
	}
	out := make(products.IDSet, len(raw))
	for _, member := range raw {
		id, err := strconv.ParseInt(member, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("reconcile: decode id %q: %w", member, err)
		}
		out.Add(id)
	}
	return out, nil
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
