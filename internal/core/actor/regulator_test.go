package actor

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/berfenger/zeroexport/internal/core/domain"
	"github.com/berfenger/zeroexport/internal/core/service"
	"github.com/berfenger/zeroexport/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// scriptedDevice answers readings from a script and records every limit.
// Once the script is over, the last reading is repeated.
type scriptedDevice struct {
	mu       sync.Mutex
	readings []domain.GetReadingsResponse
	limitErr []error
	limits   []uint
	reads    int
}

func (d *scriptedDevice) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{Id: domain.ACTOR_ID_DEVICE, Healthy: true, State: "idle"})
	case domain.GetReadingsRequest:
		d.mu.Lock()
		d.reads++
		resp := d.readings[0]
		if len(d.readings) > 1 {
			d.readings = d.readings[1:]
		}
		d.mu.Unlock()
		ctx.Respond(resp)
	case domain.SetLimitRequest:
		d.mu.Lock()
		d.limits = append(d.limits, msg.LimitWatt)
		var err error
		if len(d.limitErr) > 0 {
			err = d.limitErr[0]
			d.limitErr = d.limitErr[1:]
		}
		d.mu.Unlock()
		ctx.Respond(domain.SetLimitResponse{ActorResponseMixIn: domain.ErrorResponse(err), LimitWatt: msg.LimitWatt})
	}
}

func (d *scriptedDevice) Reads() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reads
}

func (d *scriptedDevice) Limits() []uint {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]uint(nil), d.limits...)
}

func reading(gridPower int) domain.GetReadingsResponse {
	return domain.GetReadingsResponse{InverterAvailable: true, GridPowerWatt: gridPower, MeterRead: true}
}

func testRegulatorConfig(t *testing.T, resend bool) domain.RegulatorConfig {
	cfg, err := domain.NewRegulatorConfig(domain.RegulatorParams{
		MaxWatt:            1500,
		MinWattPercent:     5,
		TargetBandLow:      -100,
		TargetBandHigh:     -50,
		PollInterval:       50 * time.Millisecond,
		RequestTimeout:     200 * time.Millisecond,
		ResendMaxOnFailure: resend,
	})
	require.NoError(t, err)
	return cfg
}

func spawnRegulator(t *testing.T, cfg domain.RegulatorConfig, device *scriptedDevice) (*actor.ActorSystem, *actor.PID, *eventstream.EventStream) {
	logger := zap.Must(zap.NewDevelopment())
	as := actorutil.NewActorSystemWithZapLogger(logger)
	t.Cleanup(as.Shutdown)

	devicePID := as.Root.Spawn(actor.PropsFromProducer(func() actor.Actor { return device }))
	es := &eventstream.EventStream{}

	regulator := service.NewRegulator(cfg, service.NewDefaultLimitControlLogic(cfg, logger))
	pid := as.Root.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return NewRegulatorActor(regulator, devicePID, es, logger)
	}))
	return as, pid, es
}

func TestRegulatorActorControlSequence(t *testing.T) {

	device := &scriptedDevice{
		readings: []domain.GetReadingsResponse{reading(-600), reading(-40), reading(200), {InverterAvailable: false}},
	}
	spawnRegulator(t, testRegulatorConfig(t, false), device)

	require.Eventually(t, func() bool {
		return len(device.Limits()) >= 4
	}, 3*time.Second, 10*time.Millisecond)

	// startup max, then one command per successful cycle
	assert.Equal(t, []uint{1500, 975, 1010, 1500}, device.Limits()[:4])

	// an unavailable inverter gets no command
	time.Sleep(300 * time.Millisecond)
	assert.Len(t, device.Limits(), 4)
}

func TestRegulatorActorStatus(t *testing.T) {

	device := &scriptedDevice{
		readings: []domain.GetReadingsResponse{reading(-600)},
	}
	as, pid, _ := spawnRegulator(t, testRegulatorConfig(t, false), device)

	require.Eventually(t, func() bool {
		return len(device.Limits()) >= 2
	}, 3*time.Second, 10*time.Millisecond)

	res, err := as.Root.RequestFuture(pid, domain.GetRegulatorStatusRequest{}, time.Second).Result()
	require.NoError(t, err)
	status := res.(domain.GetRegulatorStatusResponse).Status

	assert.Equal(t, "normal", status.Mode)
	assert.Equal(t, 75, status.SetpointOffset)
	assert.Equal(t, 1500, status.MaxWatt)
	assert.Equal(t, 75, status.MinWatt)
	require.NotNil(t, status.GridPowerWatt)
	assert.Equal(t, -600, *status.GridPowerWatt)
	assert.GreaterOrEqual(t, status.Cycles, uint64(1))

	res, err = as.Root.RequestFuture(pid, domain.ActorHealthRequest{}, time.Second).Result()
	require.NoError(t, err)
	assert.True(t, res.(domain.ActorHealthResponse).Healthy)
}

func TestRegulatorActorDegradesOnReadError(t *testing.T) {

	readErr := domain.NewCommunicationError(domain.DEVICE_METER, "read", errors.New("connection refused"))
	device := &scriptedDevice{
		readings: []domain.GetReadingsResponse{
			reading(-600),
			{InverterAvailable: true, ActorResponseMixIn: domain.ErrorResponse(readErr)},
			reading(-100),
		},
	}
	_, _, es := spawnRegulator(t, testRegulatorConfig(t, false), device)

	var mu sync.Mutex
	var states []string
	sub := es.Subscribe(func(evt any) {
		if ev, ok := evt.(domain.TextSensorUpdateEvent); ok && ev.Id == domain.SENSOR_ID_REGULATOR_STATE {
			mu.Lock()
			states = append(states, ev.Value)
			mu.Unlock()
		}
	})
	defer es.Unsubscribe(sub)

	require.Eventually(t, func() bool {
		return len(device.Limits()) >= 3
	}, 3*time.Second, 10*time.Millisecond)

	// no resend on failure: the next command restarts from max
	limits := device.Limits()
	assert.Equal(t, []uint{1500, 975, 1475}, limits[:3])

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, states, "degraded")
	assert.Contains(t, states, "normal")
}

func TestRegulatorActorResendsMaxOnReadError(t *testing.T) {

	readErr := domain.NewParseError(domain.DEVICE_METER, "curr_w", errors.New("missing"))
	device := &scriptedDevice{
		readings: []domain.GetReadingsResponse{
			reading(-600),
			{InverterAvailable: true, ActorResponseMixIn: domain.ErrorResponse(readErr)},
			{InverterAvailable: false},
		},
	}
	spawnRegulator(t, testRegulatorConfig(t, true), device)

	require.Eventually(t, func() bool {
		return len(device.Limits()) >= 3
	}, 3*time.Second, 10*time.Millisecond)

	assert.Equal(t, []uint{1500, 975, 1500}, device.Limits()[:3])
}

func TestRegulatorActorStartupFailureIsNotFatal(t *testing.T) {

	device := &scriptedDevice{
		readings: []domain.GetReadingsResponse{reading(-600)},
		limitErr: []error{domain.NewCommunicationError(domain.DEVICE_INVERTER, "set_limit", errors.New("timeout"))},
	}
	spawnRegulator(t, testRegulatorConfig(t, false), device)

	require.Eventually(t, func() bool {
		return len(device.Limits()) >= 2
	}, 3*time.Second, 10*time.Millisecond)

	// the loop starts from max even though the startup command failed
	assert.Equal(t, []uint{1500, 975}, device.Limits()[:2])
}

func TestRegulatorActorCommandFailure(t *testing.T) {

	device := &scriptedDevice{
		readings: []domain.GetReadingsResponse{reading(-600), reading(-600)},
		limitErr: []error{nil, domain.NewCommunicationError(domain.DEVICE_INVERTER, "set_limit", errors.New("timeout"))},
	}
	spawnRegulator(t, testRegulatorConfig(t, false), device)

	require.Eventually(t, func() bool {
		return len(device.Limits()) >= 3
	}, 3*time.Second, 10*time.Millisecond)

	// 975 was not delivered: memory is reset to max and the next cycle corrects from there
	assert.Equal(t, []uint{1500, 975, 975}, device.Limits()[:3])
}

func TestRegulatorActorDropsStaleTicks(t *testing.T) {

	cfg := testRegulatorConfig(t, false)
	cfg.PollInterval = 600 * time.Millisecond
	device := &scriptedDevice{
		readings: []domain.GetReadingsResponse{reading(-600)},
	}
	as, pid, _ := spawnRegulator(t, cfg, device)

	require.Eventually(t, func() bool {
		return len(device.Limits()) >= 1
	}, time.Second, 10*time.Millisecond)

	// ticks left over from an old timer must not start cycles of their own
	for i := 0; i < 3; i++ {
		as.Root.Send(pid, &regulatorTick{scheduledAt: time.Now()})
	}
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 0, device.Reads())

	require.Eventually(t, func() bool {
		return device.Reads() == 1
	}, time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, device.Reads())
}
