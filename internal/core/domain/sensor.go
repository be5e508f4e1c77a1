package domain

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"

	"github.com/carlmjohnson/versioninfo"
)

const (
	SENSOR_ID_BRIDGE_STATE         = "bridge"
	SENSOR_ID_GRID_POWER           = "grid_power"
	SENSOR_ID_INVERTER_LIMIT       = "inverter_limit"
	SENSOR_ID_INVERTER_AVAILABLE   = "inverter_available"
	SENSOR_ID_REGULATOR_STATE      = "regulator_state"
	SENSOR_ID_REGULATOR_LAST_ERROR = "regulator_last_error"
	STATE_CLASS_MEASUREMENT        = "measurement"
	DEVICE_CLASS_POWER             = "power"
	DEVICE_CLASS_CONNECTIVITY      = "connectivity"
	ENTITY_CLASS_DIAGNOSTIC        = "diagnostic"
	SENSOR_TYPE_SENSOR             = "sensor"
	SENSOR_TYPE_BINARY             = "binary_sensor"
)

func BridgeDevice(baseTopic string) Device {
	return Device{
		Id:           fmt.Sprintf("zeroexport_bridge_%s", md5HashShort(baseTopic)),
		Manufacturer: "ACasal",
		Model:        "Zero Export Regulator",
		Version:      versioninfo.Short(),
		Name:         fmt.Sprintf("Zero Export %s", md5HashShort(baseTopic)),
	}
}

func IdDevice(device Device) Device {
	return Device{
		Id: device.Id,
	}
}

func BridgeSensors(bridgeDevice Device) []GenericSensor {
	return []GenericSensor{
		{
			Device:         bridgeDevice,
			Id:             SENSOR_ID_BRIDGE_STATE,
			SensorType:     SENSOR_TYPE_BINARY,
			Name:           "Connection state",
			DeviceClass:    DEVICE_CLASS_CONNECTIVITY,
			EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
			UniqueId:       uniqueId(bridgeDevice.Id, SENSOR_ID_BRIDGE_STATE),
		},
	}
}

// RegulatorSensors lists the entities updated after every control cycle.
func RegulatorSensors(bridgeDevice Device) []GenericSensor {
	dev := IdDevice(bridgeDevice)

	var sensors []GenericSensor

	sensors = append(sensors, GenericSensor{
		Device:            dev,
		Id:                SENSOR_ID_GRID_POWER,
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "Grid power",
		StateClass:        STATE_CLASS_MEASUREMENT,
		DeviceClass:       DEVICE_CLASS_POWER,
		UnitOfMeasurement: "W",
		UniqueId:          uniqueId(bridgeDevice.Id, SENSOR_ID_GRID_POWER),
		Icon:              "mdi:transmission-tower",
	})
	sensors = append(sensors, GenericSensor{
		Device:            dev,
		Id:                SENSOR_ID_INVERTER_LIMIT,
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "Inverter power limit",
		StateClass:        STATE_CLASS_MEASUREMENT,
		DeviceClass:       DEVICE_CLASS_POWER,
		UnitOfMeasurement: "W",
		UniqueId:          uniqueId(bridgeDevice.Id, SENSOR_ID_INVERTER_LIMIT),
		Icon:              "mdi:solar-power-variant",
	})
	sensors = append(sensors, GenericSensor{
		Device:      dev,
		Id:          SENSOR_ID_INVERTER_AVAILABLE,
		SensorType:  SENSOR_TYPE_BINARY,
		Name:        "Inverter available",
		DeviceClass: DEVICE_CLASS_CONNECTIVITY,
		UniqueId:    uniqueId(bridgeDevice.Id, SENSOR_ID_INVERTER_AVAILABLE),
	})
	sensors = append(sensors, GenericSensor{
		Device:         dev,
		Id:             SENSOR_ID_REGULATOR_STATE,
		SensorType:     SENSOR_TYPE_SENSOR,
		Name:           "Regulator state",
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
		UniqueId:       uniqueId(bridgeDevice.Id, SENSOR_ID_REGULATOR_STATE),
		Icon:           "mdi:state-machine",
	})
	sensors = append(sensors, GenericSensor{
		Device:           dev,
		Id:               SENSOR_ID_REGULATOR_LAST_ERROR,
		SensorType:       SENSOR_TYPE_SENSOR,
		Name:             "Regulator last error",
		EntityCategory:   ENTITY_CLASS_DIAGNOSTIC,
		EnabledByDefault: optionalBool(false),
		UniqueId:         uniqueId(bridgeDevice.Id, SENSOR_ID_REGULATOR_LAST_ERROR),
		Icon:             "mdi:alert-circle-outline",
	})

	return sensors
}

func uniqueId(baseId, id string) string {
	return fmt.Sprintf("uid_%s_%s", baseId, id)
}

func md5Hash(text string) string {
	hash := md5.Sum([]byte(text))
	return hex.EncodeToString(hash[:])
}

func md5HashShort(text string) string {
	hash := md5Hash(text)
	return hash[0:8]
}

func optionalBool(value bool) *bool {
	return &value
}
