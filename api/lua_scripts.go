package api

import "github.com/redis/go-redis/v9"

// PublishEventScript appends an engine event to the shared stream at most once.
//
//	KEYS[1] - de-duplication key of the event
//	KEYS[2] - event stream
//	ARGV[1] - encoded event payload
//	ARGV[2] - seconds the de-duplication key is kept
//
// Returns:
//
//	1 - event appended
//	0 - event already published
var PublishEventScript = redis.NewScript(`
local ttl = tonumber(ARGV[2]) or 0
if ttl < 1 then
    ttl = 1
end

if not redis.call('SET', KEYS[1], '1', 'NX', 'EX', ttl) then
    return 0
end

redis.call('XADD', KEYS[2], '*', 'data', ARGV[1])
return 1
`)
