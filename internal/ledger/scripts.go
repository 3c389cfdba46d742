package ledger

import "github.com/redis/go-redis/v9"

// Balances are stored as integer counts of 10^-5 USD so every script below
// works in exact integer arithmetic. Each script is the single atomic step
// of the operation that uses it; concurrent callers serialize here.

// casDebitScript debits a balance only if it covers the delta.
// KEYS[1] balance key; ARGV[1] delta (scaled).
// Returns {1, new_balance} or {0, current_balance}.
var casDebitScript = redis.NewScript(`
local balance = tonumber(redis.call('GET', KEYS[1]) or '0')
local delta = tonumber(ARGV[1])
if balance < delta then
	return {0, balance}
end
local new = redis.call('DECRBY', KEYS[1], ARGV[1])
return {1, new}
`)

// chargeDebitScript is casDebitScript plus the usage counter increments that
// must land together with the debit.
// KEYS[1] balance, KEYS[2] per-user model hash, KEYS[3] daily hash;
// ARGV[1] cost (scaled), ARGV[2] model, ARGV[3] tokens used.
// Returns {1, new_balance} or {0, current_balance}.
var chargeDebitScript = redis.NewScript(`
local balance = tonumber(redis.call('GET', KEYS[1]) or '0')
local cost = tonumber(ARGV[1])
if balance < cost then
	return {0, balance}
end
local new = redis.call('DECRBY', KEYS[1], ARGV[1])
redis.call('HINCRBY', KEYS[2], 'direct', ARGV[3])
redis.call('HINCRBY', KEYS[3], ARGV[2], ARGV[3])
return {1, new}
`)

// putReservationScript creates a reservation hash unless the id exists.
// KEYS[1] reservation key; ARGV[1] ttl seconds, ARGV[2..] field/value pairs.
// Returns 1 on creation, 0 on conflict.
var putReservationScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1], unpack(ARGV, 2))
redis.call('EXPIRE', KEYS[1], ARGV[1])
return 1
`)

// finalizeReservationScript performs the one legal state transition:
// reserved → committed. It applies the signed balance adjustment (refund or
// extra debit), refuses to overdraw, stores the actuals, extends the TTL and
// bumps the usage counters — all or nothing.
// KEYS[1] reservation, KEYS[2] balance, KEYS[3] per-user model hash,
// KEYS[4] daily hash.
// ARGV[1] adjustment (scaled, signed), ARGV[2] actual cost (decimal string),
// ARGV[3] input tokens, ARGV[4] output tokens, ARGV[5] committed ttl seconds,
// ARGV[6] endpoint, ARGV[7] model, ARGV[8] total tokens.
// Returns {1, new_balance}, {-1, 0} not found, {-2, 0} already committed,
// {-3, current_balance} would overdraw.
var finalizeReservationScript = redis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if not status then
	return {-1, 0}
end
if status ~= 'reserved' then
	return {-2, 0}
end
local adjustment = tonumber(ARGV[1])
local balance = tonumber(redis.call('GET', KEYS[2]) or '0')
if balance + adjustment < 0 then
	return {-3, balance}
end
local new = redis.call('INCRBY', KEYS[2], ARGV[1])
redis.call('HSET', KEYS[1],
	'status', 'committed',
	'actual_cost', ARGV[2],
	'input_tokens_actual', ARGV[3],
	'output_tokens_actual', ARGV[4])
redis.call('EXPIRE', KEYS[1], ARGV[5])
redis.call('HINCRBY', KEYS[3], ARGV[6], ARGV[8])
redis.call('HINCRBY', KEYS[4], ARGV[7], ARGV[8])
return {1, new}
`)
