package events

import (
	. "github.com/berfenger/zeroexport/internal/core/domain"
)

// RegulatorStatusToUpdateEvents maps a regulator snapshot to sensor updates.
// Grid power and inverter availability are skipped when the last cycle did not read them.
func RegulatorStatusToUpdateEvents(status RegulatorStatus) []any {
	var events []any

	// Grid Power
	if status.GridPowerWatt != nil {
		events = append(events, FloatSensorUpdateEvent{
			SensorUpdateEventMixIn: SensorUpdateEventMixIn{
				Id: SENSOR_ID_GRID_POWER,
			},
			Value:    float64(*status.GridPowerWatt),
			Decimals: 0,
		})
	}
	// Inverter Available
	if status.InverterAvailable != nil {
		events = append(events, BinarySensorUpdateEvent{
			SensorUpdateEventMixIn: SensorUpdateEventMixIn{
				Id: SENSOR_ID_INVERTER_AVAILABLE,
			},
			Value: *status.InverterAvailable,
		})
	}
	// Inverter Limit
	events = append(events, FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_INVERTER_LIMIT,
		},
		Value:    float64(status.CurrentLimitWatt),
		Decimals: 0,
	})
	// Regulator State
	events = append(events, TextSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_REGULATOR_STATE,
		},
		Value: status.Mode,
	})
	// Regulator Last Error
	events = append(events, TextSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_REGULATOR_LAST_ERROR,
		},
		Value: status.LastError,
	})

	return events
}

func BridgeOnlineUpdateEvent(online bool) any {
	return BridgeStateUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_BRIDGE_STATE,
		},
		Value: online,
	}
}
