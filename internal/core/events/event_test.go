package events

import (
	"testing"

	"github.com/berfenger/zeroexport/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegulatorStatusEvents(t *testing.T) {

	require := require.New(t)

	power := -120
	available := true
	evs := RegulatorStatusToUpdateEvents(domain.RegulatorStatus{
		Mode:              "normal",
		CurrentLimitWatt:  980,
		GridPowerWatt:     &power,
		InverterAvailable: &available,
	})
	require.Len(evs, 5)

	ids := map[string]any{}
	for _, ev := range evs {
		sev, ok := ev.(domain.SensorUpdateEvent)
		require.True(ok)
		ids[sev.SensorId()] = ev
	}
	require.Equal(-120.0, ids[domain.SENSOR_ID_GRID_POWER].(domain.FloatSensorUpdateEvent).Value)
	require.Equal(980.0, ids[domain.SENSOR_ID_INVERTER_LIMIT].(domain.FloatSensorUpdateEvent).Value)
	require.True(ids[domain.SENSOR_ID_INVERTER_AVAILABLE].(domain.BinarySensorUpdateEvent).Value)
	require.Equal("normal", ids[domain.SENSOR_ID_REGULATOR_STATE].(domain.TextSensorUpdateEvent).Value)
}

func TestDegradedStatusSkipsReadings(t *testing.T) {

	evs := RegulatorStatusToUpdateEvents(domain.RegulatorStatus{
		Mode:             "degraded",
		CurrentLimitWatt: 1500,
		LastError:        "meter read: communication error: timeout",
	})
	assert.Len(t, evs, 3)
	for _, ev := range evs {
		assert.NotEqual(t, domain.SENSOR_ID_GRID_POWER, ev.(domain.SensorUpdateEvent).SensorId())
	}
}
