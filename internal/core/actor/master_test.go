package actor

import (
	"testing"
	"time"

	adactor "github.com/berfenger/zeroexport/internal/adapter/actor"
	"github.com/berfenger/zeroexport/internal/core/domain"
	"github.com/berfenger/zeroexport/internal/util"
	"github.com/berfenger/zeroexport/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMasterActor(t *testing.T) {

	cfg := util.LoadTestConfig()
	cfg.MQTT.Enable = true
	cfg.MQTT.HADiscoveryEnable = true

	logCfg := zap.NewDevelopmentConfig()
	logCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)
	logger := zap.Must(logCfg.Build())

	as := actorutil.NewActorSystemWithZapLogger(logger)
	context := as.Root
	defer as.Shutdown()

	device := &scriptedDevice{readings: []domain.GetReadingsResponse{reading(-600)}}
	var mqttActor *adactor.TestMQTTActor

	props := actor.PropsFromProducer(func() actor.Actor {
		return NewMasterOfPuppetsActor(cfg, testRegulatorConfig(t, false), func() actor.Actor {
			return device
		}, func(es *eventstream.EventStream) actor.Actor {
			mqttActor = adactor.NewTestMQTTActor(es, logger)
			return mqttActor
		}, logger)
	})
	pid, err := context.SpawnNamed(props, domain.ACTOR_ID_MASTER)
	require.NoError(t, err)

	res, err := context.RequestFuture(pid, domain.ActorHealthRequest{}, 5*time.Second).Result()
	require.NoError(t, err)
	healthResp, ok := res.(domain.ActorHealthResponse)
	require.True(t, ok)
	assert.True(t, healthResp.Healthy, "healthy is true")

	// status requests are forwarded to the regulator
	require.Eventually(t, func() bool {
		res, err := context.RequestFuture(pid, domain.GetRegulatorStatusRequest{}, time.Second).Result()
		if err != nil {
			return false
		}
		return res.(domain.GetRegulatorStatusResponse).Status.Cycles > 0
	}, 3*time.Second, 20*time.Millisecond)

	// regulator updates reach the MQTT actor through the event stream
	require.Eventually(t, func() bool {
		return mqttActor != nil && len(mqttActor.Events()) > 0 && len(mqttActor.Discovery()) > 0
	}, 3*time.Second, 20*time.Millisecond)

	ids := map[string]bool{}
	for _, sensor := range mqttActor.Discovery() {
		ids[sensor.Id] = true
	}
	assert.True(t, ids[domain.SENSOR_ID_BRIDGE_STATE])
	assert.True(t, ids[domain.SENSOR_ID_GRID_POWER])
	assert.True(t, ids[domain.SENSOR_ID_INVERTER_LIMIT])

	context.Stop(pid)
}

func TestMasterActorWithoutMQTT(t *testing.T) {

	cfg := util.LoadTestConfig()
	cfg.MQTT.Enable = false

	logger := zap.NewNop()
	as := actorutil.NewActorSystemWithZapLogger(logger)
	defer as.Shutdown()

	device := &scriptedDevice{readings: []domain.GetReadingsResponse{{InverterAvailable: false}}}

	props := actor.PropsFromProducer(func() actor.Actor {
		return NewMasterOfPuppetsActor(cfg, testRegulatorConfig(t, false), func() actor.Actor {
			return device
		}, nil, logger)
	})
	pid, err := as.Root.SpawnNamed(props, domain.ACTOR_ID_MASTER)
	require.NoError(t, err)

	res, err := as.Root.RequestFuture(pid, domain.ActorHealthRequest{}, 5*time.Second).Result()
	require.NoError(t, err)
	assert.True(t, res.(domain.ActorHealthResponse).Healthy)

	require.Eventually(t, func() bool {
		res, err := as.Root.RequestFuture(pid, domain.GetRegulatorStatusRequest{}, time.Second).Result()
		if err != nil {
			return false
		}
		return res.(domain.GetRegulatorStatusResponse).Status.Mode == "degraded"
	}, 3*time.Second, 20*time.Millisecond)
}
