package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/amirphl/leadflow/utils"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePruner struct {
	cutoffs []time.Time
	err     error
}

func (p *fakePruner) PruneBefore(ctx context.Context, before time.Time) (int64, error) {
	p.cutoffs = append(p.cutoffs, before)
	return 3, p.err
}

func TestHousekeeping_PruneLedgerKeepsRetention(t *testing.T) {
	pruner := &fakePruner{}
	clock := utils.ClockFunc(func() time.Time { return tuesday10 })
	h, err := NewHousekeeping(HousekeepingConfig{}, pruner, nil, clock, nil)
	require.NoError(t, err)

	h.PruneLedger(context.Background())
	require.Len(t, pruner.cutoffs, 1)
	assert.Equal(t, tuesday10.Add(-utils.LedgerRetention), pruner.cutoffs[0])

	pruner.err = errors.New("connection reset")
	assert.NotPanics(t, func() { h.PruneLedger(context.Background()) })
}

func TestHousekeeping_RejectsBadSpec(t *testing.T) {
	_, err := NewHousekeeping(HousekeepingConfig{PruneSpec: "every now and then"}, &fakePruner{}, nil, nil, nil)
	assert.Error(t, err)
}

func TestHousekeeping_CheckCache(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })

	h, err := NewHousekeeping(HousekeepingConfig{}, &fakePruner{}, rc, nil, nil)
	require.NoError(t, err)

	h.CheckCache(context.Background())
	assert.Equal(t, 1.0, testutil.ToFloat64(cacheUp))

	mr.Close()
	h.CheckCache(context.Background())
	assert.Equal(t, 0.0, testutil.ToFloat64(cacheUp))
}

func TestHousekeeping_StartStop(t *testing.T) {
	h, err := NewHousekeeping(HousekeepingConfig{PruneSpec: "@every 1h"}, &fakePruner{}, nil, nil, nil)
	require.NoError(t, err)

	stop := h.Start()
	done := make(chan struct{})
	go func() {
		stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("housekeeping did not stop")
	}
}
