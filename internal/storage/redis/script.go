package redis

import "github.com/redis/go-redis/v9"

// commitScript applies one placement atomically.
//
// KEYS: user state, cells, revision, deltas
// ARGV: now_ms, next_ms, coord key, encoded cell, delta log size
//
// Returns {0, next_ms, total} when the user is on cooldown, otherwise
// {1, next_ms, total, revision}.
var commitScript = redis.NewScript(`
local next_ms = redis.call('HGET', KEYS[1], 'next_ms')
local total = tonumber(redis.call('HGET', KEYS[1], 'total') or '0')
if next_ms and tonumber(next_ms) > tonumber(ARGV[1]) then
  return {0, next_ms, total}
end

redis.call('HSET', KEYS[2], ARGV[3], ARGV[4])
total = total + 1
redis.call('HSET', KEYS[1], 'next_ms', ARGV[2], 'total', tostring(total))

local rev = redis.call('INCR', KEYS[3])
redis.call('ZADD', KEYS[4], rev, tostring(rev) .. '|' .. ARGV[4])
redis.call('ZREMRANGEBYRANK', KEYS[4], 0, -(tonumber(ARGV[5]) + 1))

return {1, ARGV[2], total, rev}
`)
