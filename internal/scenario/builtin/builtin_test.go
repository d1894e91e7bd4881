package builtin

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/swarm/internal/config"
	"github.com/wesleyorama2/swarm/internal/scenario"
	"github.com/wesleyorama2/swarm/internal/target"
)

type countingRecorder struct {
	mu   sync.Mutex
	tags map[string]int
}

func (r *countingRecorder) Record(tag string, _, _ time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tags == nil {
		r.tags = map[string]int{}
	}
	r.tags[tag]++
}

func (r *countingRecorder) count(tag string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tags[tag]
}

type tickCounter struct {
	mu    sync.Mutex
	ticks int
}

func (t *tickCounter) Tick(_ context.Context, n int) error {
	t.mu.Lock()
	t.ticks += n
	t.mu.Unlock()
	return nil
}

func newRegistry(t *testing.T) *scenario.Registry {
	t.Helper()
	reg := scenario.NewRegistry()
	require.NoError(t, Install(reg))
	return reg
}

func instantiate(t *testing.T, reg *scenario.Registry, name string, params map[string]any, addr string, rec scenario.Recorder) scenario.Instance {
	t.Helper()
	services := scenario.Services{Recorder: rec}
	if addr != "" {
		services.Target = target.NewDialer("redis://" + addr)
	}
	inst, err := reg.Instantiate(config.SchemaConfig{Scenario: name, Params: params}, services, scenario.Runtime{AgentID: "agent-1"})
	require.NoError(t, err)
	return inst
}

func TestInstall_RegistersKindsAndNames(t *testing.T) {
	reg := newRegistry(t)
	assert.Equal(t, []string{KindInventory, KindKVSetGet, KindQueue, KindSleep}, reg.Kinds())
	assert.Len(t, reg.List(), 4)

	assert.Error(t, Install(reg), "installing twice should hit the duplicate check")
}

func TestSleep(t *testing.T) {
	reg := newRegistry(t)
	rec := &countingRecorder{}

	ok := instantiate(t, reg, KindSleep, map[string]any{"latency": "1ms"}, "", rec)
	require.NoError(t, ok.Execute(context.Background()))

	failing := instantiate(t, reg, KindSleep, map[string]any{"latency": 0, "fail": true}, "", rec)
	err := failing.Execute(context.Background())
	require.Error(t, err)
	assert.Equal(t, "boom", err.Error())

	assert.Equal(t, 2, rec.count("sleep"))
}

func TestKVSetGet(t *testing.T) {
	mr := miniredis.RunT(t)
	reg := newRegistry(t)
	rec := &countingRecorder{}
	ctx := context.Background()

	inst := instantiate(t, reg, KindKVSetGet, map[string]any{"keyspace": 5, "prefix": "t:kv"}, mr.Addr(), rec)
	require.NoError(t, inst.Setup(ctx))
	for i := 0; i < 20; i++ {
		require.NoError(t, inst.Execute(ctx))
	}
	require.NoError(t, inst.Teardown(ctx))

	assert.Equal(t, 20, rec.count("kv.set"))
	assert.Equal(t, 20, rec.count("kv.get"))
	assert.LessOrEqual(t, len(mr.Keys()), 5)

	require.NoError(t, inst.GlobalTeardown(ctx))
	assert.Empty(t, mr.Keys())
}

func TestKVSetGet_WithoutSetup(t *testing.T) {
	reg := newRegistry(t)
	inst := instantiate(t, reg, KindKVSetGet, nil, "", nil)
	assert.ErrorIs(t, inst.Setup(context.Background()), errNoTarget)
	assert.ErrorIs(t, inst.Execute(context.Background()), errNoTarget)
}

func TestInventory_ReserveAndCancel(t *testing.T) {
	mr := miniredis.RunT(t)
	reg := newRegistry(t)
	ctx := context.Background()

	params := map[string]any{"products": 1, "stock": 3, "quantity": 1, "cancelRate": 0, "prefix": "t:inv"}
	inst := instantiate(t, reg, KindInventory, params, mr.Addr(), nil)
	require.NoError(t, inst.GlobalSetup(ctx))
	require.NoError(t, inst.Setup(ctx))
	defer inst.Teardown(ctx)

	inv := inst.(*Inventory)
	for i, id := range []string{"r1", "r2", "r3"} {
		require.NoError(t, inv.Reserve(ctx, 0, id), "reservation %d", i)
	}
	assert.ErrorIs(t, inv.Reserve(ctx, 0, "r4"), ErrOutOfStock)

	stock, err := mr.Get("t:inv:stock:0")
	require.NoError(t, err)
	assert.Equal(t, "0", stock)

	require.NoError(t, inv.Cancel(ctx, 0, "r2"))
	require.NoError(t, inv.Cancel(ctx, 0, "r2"), "double cancel is a no-op")

	stock, _ = mr.Get("t:inv:stock:0")
	assert.Equal(t, "1", stock)
	keys, err := mr.HKeys("t:inv:reservations:0")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"r1", "r3"}, keys)
}

func TestInventory_ConcurrentReservationsNeverOversell(t *testing.T) {
	mr := miniredis.RunT(t)
	reg := newRegistry(t)
	ctx := context.Background()

	params := map[string]any{"products": 1, "stock": 10, "retries": 50, "cancelRate": 0, "prefix": "t:inv"}
	inst := instantiate(t, reg, KindInventory, params, mr.Addr(), nil)
	require.NoError(t, inst.GlobalSetup(ctx))
	require.NoError(t, inst.Setup(ctx))
	defer inst.Teardown(ctx)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		reserved int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := inst.Execute(ctx); err == nil {
				mu.Lock()
				reserved++
				mu.Unlock()
			} else if !errors.Is(err, ErrOutOfStock) {
				var wc *scenario.WriteConcernError
				assert.ErrorAs(t, err, &wc)
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, reserved, 10)
	keys, err := mr.HKeys("t:inv:reservations:0")
	require.NoError(t, err)
	assert.Equal(t, reserved, len(keys))
}

func TestQueue_CustomTicks(t *testing.T) {
	mr := miniredis.RunT(t)
	reg := newRegistry(t)
	rec := &countingRecorder{}
	ctx := context.Background()

	inst := instantiate(t, reg, KindQueue, map[string]any{"queue": "t:q", "tickEvery": 4}, mr.Addr(), rec)
	require.NoError(t, inst.Setup(ctx))
	defer inst.Teardown(ctx)

	runner, ok := inst.(scenario.CustomRunner)
	require.True(t, ok)

	remote := &tickCounter{}
	executed, errs := runner.Custom(ctx, remote, 10)
	assert.Empty(t, errs)
	assert.Equal(t, int64(10), executed)
	assert.Equal(t, 10, rec.count("queue.consume"))
	// ticks at 4, 8 and the final message
	assert.Equal(t, 3, remote.ticks)
}
