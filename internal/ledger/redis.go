package ledger

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/matst80/rendezvous-relay/internal/obs"
)

const (
	keyWaitingPrefix = "relay:waiting:"
	keyPaired        = "relay:stats:paired"
	keyExpired       = "relay:stats:expired"
	keyClosedPrefix  = "relay:stats:closed:"
)

var outcomes = []string{obs.OutcomeNormal, obs.OutcomeError, obs.OutcomeTimeout}

// settleScript drops the waiting marker only if this instance wrote it, so
// another instance waiting under the same id keeps its marker, then bumps
// the counter.
var settleScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	redis.call("DEL", KEYS[1])
end
return redis.call("INCR", KEYS[2])
`)

// redisStore keeps local state in the embedded Memory and mirrors counters and
// waiting markers into Redis so every instance sees cluster totals.
type redisStore struct {
	*Memory
	client     *redis.Client
	instanceID string
	waitTTL    time.Duration
	opTimeout  time.Duration
}

var _ Store = (*redisStore)(nil)

func newRedisStore(ctx context.Context, opts Options) (*redisStore, error) {
	rdb := redis.NewClient(&redis.Options{Addr: opts.RedisAddr, Password: opts.RedisPassword, DB: opts.RedisDB})
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	ttl := opts.WaitTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	host, _ := os.Hostname()
	return &redisStore{
		Memory:     NewMemory(),
		client:     rdb,
		instanceID: host + "-" + uuid.NewString(),
		waitTTL:    ttl,
		opTimeout:  2 * time.Second,
	}, nil
}

func (r *redisStore) Waiting(ctx context.Context, id string) {
	r.Memory.Waiting(ctx, id)
	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()
	if err := r.client.Set(ctx, keyWaitingPrefix+id, r.instanceID, r.waitTTL).Err(); err != nil {
		obs.Error("ledger.redis.waiting", obs.Fields{"err": err.Error(), "uuid": id})
	}
}

func (r *redisStore) Paired(ctx context.Context, id string) {
	r.Memory.Paired(ctx, id)
	r.settle(ctx, id, keyPaired)
}

func (r *redisStore) Expired(ctx context.Context, id string) {
	r.Memory.Expired(ctx, id)
	r.settle(ctx, id, keyExpired)
}

// settle drops our waiting marker and bumps counter in one round trip.
func (r *redisStore) settle(ctx context.Context, id, counter string) {
	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()
	if err := settleScript.Run(ctx, r.client, []string{keyWaitingPrefix + id, counter}, r.instanceID).Err(); err != nil {
		obs.Error("ledger.redis.settle", obs.Fields{"err": err.Error(), "uuid": id, "counter": counter})
	}
}

func (r *redisStore) Closed(ctx context.Context, id, outcome string, d time.Duration) {
	r.Memory.Closed(ctx, id, outcome, d)
	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()
	if err := r.client.Incr(ctx, keyClosedPrefix+outcome).Err(); err != nil {
		obs.Error("ledger.redis.closed", obs.Fields{"err": err.Error(), "uuid": id})
	}
}

// Snapshot reports cluster wide waiting sessions and counters. On Redis
// failure the local values are returned.
func (r *redisStore) Snapshot(ctx context.Context) Snapshot {
	snap := r.Memory.Snapshot(ctx)
	keys := []string{keyPaired, keyExpired}
	for _, o := range outcomes {
		keys = append(keys, keyClosedPrefix+o)
	}
	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		obs.Error("ledger.redis.snapshot", obs.Fields{"err": err.Error()})
		return snap
	}
	snap.Paired = parseCount(vals[0])
	snap.Expired = parseCount(vals[1])
	for i, o := range outcomes {
		snap.Closed[o] = parseCount(vals[2+i])
	}
	if n, err := r.countWaiting(ctx); err != nil {
		obs.Error("ledger.redis.waiting_count", obs.Fields{"err": err.Error()})
	} else {
		snap.Waiting = n
	}
	return snap
}

// countWaiting counts the waiting markers of every instance.
func (r *redisStore) countWaiting(ctx context.Context) (int, error) {
	n := 0
	iter := r.client.Scan(ctx, 0, keyWaitingPrefix+"*", 256).Iterator()
	for iter.Next(ctx) {
		n++
	}
	return n, iter.Err()
}

func (r *redisStore) Close() error {
	return r.client.Close()
}

func parseCount(v any) int64 {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
