package actor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/berfenger/zeroexport/internal/core/domain"
	"github.com/berfenger/zeroexport/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakeMeter struct {
	mu    sync.Mutex
	watts int
	err   error
	reads int
}

func (m *fakeMeter) ReadWatts(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	return m.watts, m.err
}

type fakeInverter struct {
	mu        sync.Mutex
	available bool
	err       error
	limitErr  error
	openErr   error
	delay     time.Duration
	limits    []uint
	opens     int
	closes    int
}

func (inv *fakeInverter) IsAvailable(ctx context.Context) (bool, error) {
	inv.mu.Lock()
	delay := inv.delay
	inv.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return false, domain.NewCommunicationError(domain.DEVICE_INVERTER, "status", ctx.Err())
		}
	}
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.available, inv.err
}

func (inv *fakeInverter) SetLimit(ctx context.Context, watts uint) error {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if inv.limitErr != nil {
		return inv.limitErr
	}
	inv.limits = append(inv.limits, watts)
	return nil
}

func (inv *fakeInverter) Open() error {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.opens++
	return inv.openErr
}

func (inv *fakeInverter) Close() error {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.closes++
	return nil
}

func (inv *fakeInverter) Limits() []uint {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return append([]uint(nil), inv.limits...)
}

func spawnDeviceActor(t *testing.T, meter *fakeMeter, inv *fakeInverter, timeout time.Duration) (*actor.ActorSystem, *actor.PID) {
	logger := zap.Must(zap.NewDevelopment())
	as := actorutil.NewActorSystemWithZapLogger(logger)
	props := actor.PropsFromProducer(func() actor.Actor { return NewDeviceActor(meter, inv, timeout, logger) })
	pid := as.Root.Spawn(props)
	t.Cleanup(as.Shutdown)
	return as, pid
}

func TestDeviceActorReadings(t *testing.T) {

	require := require.New(t)

	meter := &fakeMeter{watts: -525}
	inv := &fakeInverter{available: true}
	as, pid := spawnDeviceActor(t, meter, inv, time.Second)

	result, err := as.Root.RequestFuture(pid, domain.GetReadingsRequest{}, 5*time.Second).Result()
	require.NoError(err)
	resp := result.(domain.GetReadingsResponse)

	require.False(resp.HasResponseError())
	require.True(resp.InverterAvailable)
	require.True(resp.MeterRead)
	require.Equal(-525, resp.GridPowerWatt)
	require.Equal(1, inv.opens)
}

func TestDeviceActorSkipsMeterWhenUnavailable(t *testing.T) {

	meter := &fakeMeter{watts: -525}
	inv := &fakeInverter{available: false}
	as, pid := spawnDeviceActor(t, meter, inv, time.Second)

	result, err := as.Root.RequestFuture(pid, domain.GetReadingsRequest{}, 5*time.Second).Result()
	require.NoError(t, err)
	resp := result.(domain.GetReadingsResponse)

	assert.False(t, resp.HasResponseError())
	assert.False(t, resp.InverterAvailable)
	assert.False(t, resp.MeterRead)
	assert.Equal(t, 0, meter.reads)
}

func TestDeviceActorMeterError(t *testing.T) {

	meterErr := domain.NewParseError(domain.DEVICE_METER, "StatusSNS.SML.curr_w", errors.New("missing"))
	meter := &fakeMeter{err: meterErr}
	inv := &fakeInverter{available: true}
	as, pid := spawnDeviceActor(t, meter, inv, time.Second)

	result, err := as.Root.RequestFuture(pid, domain.GetReadingsRequest{}, 5*time.Second).Result()
	require.NoError(t, err)
	resp := result.(domain.GetReadingsResponse)

	require.True(t, resp.HasResponseError())
	assert.ErrorIs(t, resp.ResponseError, meterErr)
	assert.False(t, resp.MeterRead)
}

func TestDeviceActorReopensAfterCommunicationError(t *testing.T) {

	require := require.New(t)

	inv := &fakeInverter{err: domain.NewCommunicationError(domain.DEVICE_INVERTER, "status", errors.New("connection reset"))}
	as, pid := spawnDeviceActor(t, &fakeMeter{}, inv, time.Second)

	result, err := as.Root.RequestFuture(pid, domain.GetReadingsRequest{}, 5*time.Second).Result()
	require.NoError(err)
	require.True(result.(domain.GetReadingsResponse).HasResponseError())

	inv.mu.Lock()
	inv.err = nil
	inv.available = true
	inv.mu.Unlock()

	result, err = as.Root.RequestFuture(pid, domain.GetReadingsRequest{}, 5*time.Second).Result()
	require.NoError(err)
	require.False(result.(domain.GetReadingsResponse).HasResponseError())

	inv.mu.Lock()
	defer inv.mu.Unlock()
	require.Equal(2, inv.opens)
	require.Equal(1, inv.closes)
}

func TestDeviceActorSetLimit(t *testing.T) {

	require := require.New(t)

	inv := &fakeInverter{available: true}
	as, pid := spawnDeviceActor(t, &fakeMeter{}, inv, time.Second)

	result, err := as.Root.RequestFuture(pid, domain.SetLimitRequest{LimitWatt: 975}, 5*time.Second).Result()
	require.NoError(err)
	resp := result.(domain.SetLimitResponse)
	require.False(resp.HasResponseError())
	require.Equal(uint(975), resp.LimitWatt)
	require.Equal([]uint{975}, inv.Limits())

	inv.mu.Lock()
	inv.limitErr = domain.NewCommunicationError(domain.DEVICE_INVERTER, "set_limit", errors.New("timeout"))
	inv.mu.Unlock()

	result, err = as.Root.RequestFuture(pid, domain.SetLimitRequest{LimitWatt: 1010}, 5*time.Second).Result()
	require.NoError(err)
	require.True(result.(domain.SetLimitResponse).HasResponseError())
}

func TestDeviceActorTimeout(t *testing.T) {

	inv := &fakeInverter{available: true, delay: 2 * time.Second}
	as, pid := spawnDeviceActor(t, &fakeMeter{}, inv, 100*time.Millisecond)

	result, err := as.Root.RequestFuture(pid, domain.GetReadingsRequest{}, 5*time.Second).Result()
	require.NoError(t, err)
	resp := result.(domain.GetReadingsResponse)
	require.True(t, resp.HasResponseError())
	assert.ErrorIs(t, resp.ResponseError, context.DeadlineExceeded)
	assert.Equal(t, "communication", domain.ErrorKind(resp.ResponseError))
}

func TestDeviceActorSerializesRequests(t *testing.T) {

	inv := &fakeInverter{available: true}
	as, pid := spawnDeviceActor(t, &fakeMeter{}, inv, time.Second)

	futures := []*actor.Future{}
	for _, limit := range []uint{600, 700, 800} {
		futures = append(futures, as.Root.RequestFuture(pid, domain.SetLimitRequest{LimitWatt: limit}, 5*time.Second))
	}
	for _, f := range futures {
		_, err := f.Result()
		require.NoError(t, err)
	}
	assert.Equal(t, []uint{600, 700, 800}, inv.Limits())
}

// stuckMeter blocks past any deadline, like a modbus read on a dead link.
type stuckMeter struct {
	fakeMeter
	delay  time.Duration
	opens  int
	closes int
}

func (m *stuckMeter) ReadWatts(ctx context.Context) (int, error) {
	m.mu.Lock()
	delay := m.delay
	m.mu.Unlock()
	time.Sleep(delay)
	return m.fakeMeter.ReadWatts(ctx)
}

func (m *stuckMeter) Open() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opens++
	return nil
}

func (m *stuckMeter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closes++
	return nil
}

func TestDeviceActorTimeoutBlamesStuckMeter(t *testing.T) {

	require := require.New(t)

	meter := &stuckMeter{fakeMeter: fakeMeter{watts: -200}, delay: time.Second}
	inv := &fakeInverter{available: true}

	logger := zap.Must(zap.NewDevelopment())
	as := actorutil.NewActorSystemWithZapLogger(logger)
	t.Cleanup(as.Shutdown)
	pid := as.Root.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return NewDeviceActor(meter, inv, 100*time.Millisecond, logger)
	}))

	result, err := as.Root.RequestFuture(pid, domain.GetReadingsRequest{}, 5*time.Second).Result()
	require.NoError(err)
	resp := result.(domain.GetReadingsResponse)
	require.True(resp.HasResponseError())
	require.Equal("communication", domain.ErrorKind(resp.ResponseError))
	require.Equal(domain.DEVICE_METER, domain.ErrorDevice(resp.ResponseError))

	meter.mu.Lock()
	meter.delay = 0
	meter.mu.Unlock()

	result, err = as.Root.RequestFuture(pid, domain.GetReadingsRequest{}, 5*time.Second).Result()
	require.NoError(err)
	resp = result.(domain.GetReadingsResponse)
	require.False(resp.HasResponseError())
	require.Equal(-200, resp.GridPowerWatt)

	// the meter connection is recycled, the inverter is left alone
	meter.mu.Lock()
	assert.Equal(t, 2, meter.opens)
	assert.Equal(t, 1, meter.closes)
	meter.mu.Unlock()
	inv.mu.Lock()
	assert.Equal(t, 1, inv.opens)
	assert.Equal(t, 0, inv.closes)
	inv.mu.Unlock()
}

func TestDeviceActorLogsFailedReopen(t *testing.T) {

	core, logs := observer.New(zapcore.WarnLevel)
	logger := zap.New(core)
	as := actorutil.NewActorSystemWithZapLogger(zap.NewNop())
	t.Cleanup(as.Shutdown)

	inv := &fakeInverter{available: true, openErr: errors.New("connection refused")}
	pid := as.Root.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return NewDeviceActor(&fakeMeter{}, inv, time.Second, logger)
	}))

	// the failed open on start marks the inverter for a reopen before this request
	_, err := as.Root.RequestFuture(pid, domain.GetReadingsRequest{}, 5*time.Second).Result()
	require.NoError(t, err)

	reopenLogs := logs.FilterMessage("device: reopen failed").All()
	require.Len(t, reopenLogs, 1)
	assert.Equal(t, "connection refused", reopenLogs[0].ContextMap()["error"])
}
