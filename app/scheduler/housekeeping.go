package scheduler

import (
	"context"
	"time"

	"github.com/amirphl/leadflow/utils"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// LedgerPruner deletes quota ledger rows that no rolling window can see anymore.
type LedgerPruner interface {
	PruneBefore(ctx context.Context, before time.Time) (int64, error)
}

// HousekeepingConfig holds the cron specs of the periodic jobs.
type HousekeepingConfig struct {
	PruneSpec       string
	CacheHealthSpec string
	Location        *time.Location
}

// Housekeeping runs the periodic maintenance jobs on a cron scheduler.
type Housekeeping struct {
	sched  *cron.Cron
	ledger LedgerPruner
	rc     redis.UniversalClient
	clock  utils.Clock
	logger *zap.Logger
}

// NewHousekeeping registers the jobs. rc may be nil, in which case the cache health check is skipped.
func NewHousekeeping(cfg HousekeepingConfig, ledger LedgerPruner, rc redis.UniversalClient, clock utils.Clock, logger *zap.Logger) (*Housekeeping, error) {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.PruneSpec == "" {
		cfg.PruneSpec = "@hourly"
	}
	if cfg.CacheHealthSpec == "" {
		cfg.CacheHealthSpec = "@every 30s"
	}
	if clock == nil {
		clock = utils.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	h := &Housekeeping{
		sched:  cron.New(cron.WithLocation(cfg.Location), cron.WithParser(cronParser)),
		ledger: ledger,
		rc:     rc,
		clock:  clock,
		logger: logger.Named("housekeeping"),
	}

	if _, err := h.sched.AddFunc(cfg.PruneSpec, func() { h.PruneLedger(context.Background()) }); err != nil {
		return nil, err
	}
	if rc != nil {
		if _, err := h.sched.AddFunc(cfg.CacheHealthSpec, func() { h.CheckCache(context.Background()) }); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// Start runs the cron scheduler and returns a stop function that waits for running jobs.
func (h *Housekeeping) Start() func() {
	h.sched.Start()
	return func() {
		<-h.sched.Stop().Done()
	}
}

// PruneLedger removes ledger rows older than utils.LedgerRetention.
func (h *Housekeeping) PruneLedger(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("ledger prune panicked", zap.Any("panic", r))
		}
	}()

	cutoff := h.clock.Now().Add(-utils.LedgerRetention)
	n, err := h.ledger.PruneBefore(ctx, cutoff)
	if err != nil {
		h.logger.Error("ledger prune failed", zap.Error(err))
		return
	}
	if n > 0 {
		h.logger.Info("ledger pruned", zap.Int64("rows", n), zap.Time("before", cutoff))
	}
}

// CheckCache pings redis and exports the result as the cache_up gauge.
func (h *Housekeeping) CheckCache(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := h.rc.Ping(ctx).Err(); err != nil {
		cacheUp.Set(0)
		h.logger.Warn("redis health check failed", zap.Error(err))
		return
	}
	cacheUp.Set(1)
}
