package quota

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/amirphl/leadflow/utils"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// reserveScript trims entries older than the day window, counts both windows and adds the
// new member only when both caps have room. Returns {granted, hour, day}, or {-1, 0, 0} when
// the seed marker is missing and the window has to be rebuilt from the ledger first.
var reserveScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[2]) == 0 then
  return {-1, 0, 0}
end
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[2])
local hour = redis.call('ZCOUNT', KEYS[1], ARGV[1], '+inf')
local day = redis.call('ZCARD', KEYS[1])
local perHour = tonumber(ARGV[4])
local perDay = tonumber(ARGV[5])
if perHour > 0 and hour >= perHour then
  return {0, hour, day}
end
if perDay > 0 and day >= perDay then
  return {0, hour, day}
end
redis.call('ZADD', KEYS[1], ARGV[3], ARGV[6])
redis.call('PEXPIRE', KEYS[1], ARGV[7])
redis.call('PEXPIRE', KEYS[2], ARGV[7])
return {1, hour + 1, day + 1}
`)

// seedScript replaces the window with the ledger reservations passed as score/member pairs
// after ARGV[1] (the expiry in ms) and sets the marker. A marker set by a concurrent seeder wins.
var seedScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[2]) == 1 then
  return 0
end
redis.call('DEL', KEYS[1])
for i = 2, #ARGV, 2 do
  redis.call('ZADD', KEYS[1], ARGV[i], ARGV[i + 1])
end
redis.call('SET', KEYS[2], '1', 'PX', ARGV[1])
if #ARGV > 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return 1
`)

const needsSeed = -1

// RedisTracker keeps the rolling windows in a redis sorted set scored by reservation time and
// writes every grant through to the ledger. A marker key lives next to the set; whenever it is
// gone (fresh redis, flush, eviction, failover) the set is rebuilt from the ledger before the
// window is read again.
type RedisTracker struct {
	client    redis.UniversalClient
	key       string
	markerKey string
	ledger    Ledger
	logger    *zap.Logger

	seedMu sync.Mutex
}

func NewRedisTracker(client redis.UniversalClient, keyPrefix string, ledger Ledger, logger *zap.Logger) *RedisTracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisTracker{
		client:    client,
		key:       keyPrefix + "quota:reservations",
		markerKey: keyPrefix + "quota:seeded",
		ledger:    ledger,
		logger:    logger,
	}
}

func (t *RedisTracker) TryReserve(ctx context.Context, now time.Time, limits Limits, r Reservation) (Decision, error) {
	member := uuid.NewString()

	res, err := t.reserve(ctx, now, limits, member)
	if err != nil {
		return Decision{}, err
	}
	if res[0] == needsSeed {
		if err := t.seed(ctx, now); err != nil {
			return Decision{}, err
		}
		if res, err = t.reserve(ctx, now, limits, member); err != nil {
			return Decision{}, err
		}
		if res[0] == needsSeed {
			return Decision{}, fmt.Errorf("quota window missing after seeding")
		}
	}

	hour, day := res[1], res[2]
	if res[0] == 0 {
		_, reason := evaluate(hour, day, limits)
		return Decision{Granted: false, Reason: reason, HourCount: hour, DayCount: day}, nil
	}

	d := Decision{Granted: true, HourCount: hour, DayCount: day}
	if t.ledger == nil {
		return d, nil
	}
	row := newLedgerRow(now, r)
	if err := t.ledger.Save(ctx, row); err != nil {
		if zerr := t.client.ZRem(context.WithoutCancel(ctx), t.key, member).Err(); zerr != nil {
			t.logger.Error("failed to release unrecorded reservation",
				zap.Uint("lead_id", r.LeadID), zap.Error(zerr))
		}
		return Decision{}, fmt.Errorf("failed to record reservation: %w", err)
	}
	d.ReservationID = row.ID
	return d, nil
}

func (t *RedisTracker) reserve(ctx context.Context, now time.Time, limits Limits, member string) ([]int64, error) {
	nowMs := now.UnixMilli()
	hourFloor := "(" + strconv.FormatInt(nowMs-utils.QuotaHourWindow.Milliseconds(), 10)
	dayFloor := strconv.FormatInt(nowMs-utils.QuotaDayWindow.Milliseconds(), 10)

	res, err := reserveScript.Run(ctx, t.client, []string{t.key, t.markerKey},
		hourFloor,
		dayFloor,
		nowMs,
		limits.PerHour,
		limits.PerDay,
		member,
		utils.QuotaDayWindow.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("quota reservation script failed: %w", err)
	}
	if len(res) != 3 {
		return nil, fmt.Errorf("unexpected quota script reply: %v", res)
	}
	return res, nil
}

func (t *RedisTracker) Usage(ctx context.Context, now time.Time) (Usage, error) {
	exists, err := t.client.Exists(ctx, t.markerKey).Result()
	if err != nil {
		return Usage{}, fmt.Errorf("failed to check quota marker: %w", err)
	}
	if exists == 0 {
		if err := t.seed(ctx, now); err != nil {
			return Usage{}, err
		}
	}

	nowMs := now.UnixMilli()
	pipe := t.client.Pipeline()
	hourCmd := pipe.ZCount(ctx, t.key, "("+strconv.FormatInt(nowMs-utils.QuotaHourWindow.Milliseconds(), 10), "+inf")
	dayCmd := pipe.ZCount(ctx, t.key, "("+strconv.FormatInt(nowMs-utils.QuotaDayWindow.Milliseconds(), 10), "+inf")
	if _, err := pipe.Exec(ctx); err != nil {
		return Usage{}, fmt.Errorf("failed to read quota usage: %w", err)
	}
	return Usage{HourCount: hourCmd.Val(), DayCount: dayCmd.Val()}, nil
}

func (t *RedisTracker) seed(ctx context.Context, now time.Time) error {
	t.seedMu.Lock()
	defer t.seedMu.Unlock()

	var times []time.Time
	if t.ledger != nil {
		var err error
		times, err = t.ledger.ReservedTimesSince(ctx, now.Add(-utils.QuotaDayWindow))
		if err != nil {
			return fmt.Errorf("failed to load quota ledger: %w", err)
		}
	}

	args := make([]any, 0, 1+2*len(times))
	args = append(args, utils.QuotaDayWindow.Milliseconds())
	for _, ts := range times {
		args = append(args, ts.UnixMilli(), uuid.NewString())
	}
	seeded, err := seedScript.Run(ctx, t.client, []string{t.key, t.markerKey}, args...).Int64()
	if err != nil {
		return fmt.Errorf("failed to seed quota window: %w", err)
	}
	if seeded == 1 {
		t.logger.Info("quota window seeded from ledger", zap.Int("reservations", len(times)))
	}
	return nil
}
