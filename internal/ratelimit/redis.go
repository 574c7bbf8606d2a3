package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/Carrie-PLH/plus/internal/storage"
	"github.com/redis/go-redis/v9"
)

// consumeScript checks every window in order and increments all of them only
// when none is over its limit. Each window is a hash {count, start, end} in
// unix milliseconds, expiring at its end.
//
// ARGV: now, then (limit, windowMs) per key.
// Reply: {1, 0, count1, start1, end1, ...} or {0, failedIndex, count, start, end}.
var consumeScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local counts, starts, ends = {}, {}, {}
for i = 1, #KEYS do
  local limit = tonumber(ARGV[2 * i])
  local window = tonumber(ARGV[2 * i + 1])
  local v = redis.call('HMGET', KEYS[i], 'count', 'start', 'end')
  local count, start, finish = tonumber(v[1]), tonumber(v[2]), tonumber(v[3])
  if count == nil or finish == nil or now >= finish then
    count, start, finish = 0, now, now + window
  end
  if limit >= 0 and count >= limit then
    return {0, i, count, start, finish}
  end
  counts[i], starts[i], ends[i] = count, start, finish
end
local out = {1, 0}
for i = 1, #KEYS do
  local n = counts[i] + 1
  redis.call('HSET', KEYS[i], 'count', n, 'start', starts[i], 'end', ends[i])
  redis.call('PEXPIREAT', KEYS[i], ends[i])
  out[#out + 1] = n
  out[#out + 1] = starts[i]
  out[#out + 1] = ends[i]
end
return out
`)

// RedisStore shares windows between instances. The whole check-and-increment
// runs server side in one script.
type RedisStore struct {
	redis  *storage.RedisClient
	prefix string
}

func NewRedisStore(client *storage.RedisClient) *RedisStore {
	return &RedisStore{redis: client, prefix: "ratelimit:"}
}

func (r *RedisStore) Consume(ctx context.Context, checks []Check, now time.Time) (Verdict, error) {
	keys := make([]string, len(checks))
	args := make([]interface{}, 0, 1+2*len(checks))
	args = append(args, now.UnixMilli())
	for i, chk := range checks {
		keys[i] = r.prefix + chk.Key
		args = append(args, chk.Limit, chk.Window.Milliseconds())
	}

	reply, err := r.redis.Run(ctx, consumeScript, keys, args...).Int64Slice()
	if err != nil {
		return Verdict{}, fmt.Errorf("usage script failed: %w", err)
	}
	if len(reply) < 2 {
		return Verdict{}, fmt.Errorf("usage script returned %d values", len(reply))
	}

	counters := make([]Counter, len(checks))
	if reply[0] == 0 {
		i := int(reply[1]) - 1
		if i < 0 || i >= len(checks) || len(reply) != 5 {
			return Verdict{}, fmt.Errorf("usage script returned malformed denial %v", reply)
		}
		counters[i] = counterFrom(reply[2:5])
		return Verdict{Allowed: false, Failed: i, Counters: counters}, nil
	}

	if len(reply) != 2+3*len(checks) {
		return Verdict{}, fmt.Errorf("usage script returned %d values for %d keys", len(reply), len(checks))
	}
	for i := range checks {
		counters[i] = counterFrom(reply[2+3*i : 5+3*i])
	}
	return Verdict{Allowed: true, Failed: -1, Counters: counters}, nil
}

func (r *RedisStore) Peek(ctx context.Context, checks []Check, now time.Time) ([]Counter, error) {
	pipe := r.redis.Pipeline()
	cmds := make([]*redis.SliceCmd, len(checks))
	for i, chk := range checks {
		cmds[i] = pipe.HMGet(ctx, r.prefix+chk.Key, "count", "start", "end")
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to read usage windows: %w", err)
	}

	out := make([]Counter, len(checks))
	for i, chk := range checks {
		vals := cmds[i].Val()
		c, ok := parseWindow(vals)
		out[i] = fresh(c, ok, chk.Window, now)
	}
	return out, nil
}

func counterFrom(v []int64) Counter {
	return Counter{
		Count:       int(v[0]),
		WindowStart: time.UnixMilli(v[1]),
		WindowEnd:   time.UnixMilli(v[2]),
	}
}

func parseWindow(vals []interface{}) (Counter, bool) {
	if len(vals) != 3 {
		return Counter{}, false
	}
	nums := make([]int64, 3)
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			return Counter{}, false
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return Counter{}, false
		}
		nums[i] = n
	}
	return counterFrom(nums), true
}
