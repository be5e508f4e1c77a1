package mqtt

import (
	"encoding/json"
	"testing"

	"github.com/berfenger/zeroexport/internal/config"
	"github.com/berfenger/zeroexport/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient() *MQTTClient {
	cfg := &config.Config{
		MQTT: config.MQTTConfig{
			Host:             "localhost",
			Port:             1883,
			BaseTopic:        "zeroexport",
			HADiscoveryTopic: "homeassistant",
		},
	}
	return CreateMQTTClient(cfg, OptsFromConfig(cfg), nil, nil)
}

func TestTopics(t *testing.T) {

	assert := assert.New(t)

	c := testClient()

	assert.Equal("zeroexport/bridge/state", c.BridgeStateTopic())
	assert.Equal("zeroexport/sensor/grid_power/state", c.SensorStateTopic(domain.SENSOR_ID_GRID_POWER))
	assert.Equal("zeroexport/binary_sensor/inverter_available/state", c.BinarySensorStateTopic(domain.SENSOR_ID_INVERTER_AVAILABLE))
	assert.Equal("homeassistant", c.DiscoveryPrefix())
}

func TestOptsFromConfig(t *testing.T) {

	cfg := &config.Config{MQTT: config.MQTTConfig{Host: "broker", Port: 1883, BaseTopic: "zeroexport", Username: "user"}}
	opts := OptsFromConfig(cfg)

	require.Len(t, opts.Servers, 1)
	assert.Equal(t, "tcp://broker:1883", opts.Servers[0].String())
	assert.Equal(t, "zeroexport/bridge/state", opts.WillTopic)
	assert.Equal(t, []byte(MQTT_PAYLOAD_OFFLINE), opts.WillPayload)
	assert.True(t, opts.WillRetained)
	// no password, no credentials
	assert.Empty(t, opts.Username)
}

func TestHADiscoveryMessages(t *testing.T) {

	require := require.New(t)

	c := testClient()
	bridge := domain.BridgeDevice("zeroexport")
	sensors := append(domain.BridgeSensors(bridge), domain.RegulatorSensors(bridge)...)

	byId := map[string]HADiscoveryConfig{}
	for _, sensor := range sensors {
		byId[sensor.Id] = GenericSensorToHADiscoveryMessage(c, sensor)
	}

	bridgeMsg := byId[domain.SENSOR_ID_BRIDGE_STATE]
	require.Equal("zeroexport/bridge/state", bridgeMsg.StateTopic)
	require.Equal(MQTT_PAYLOAD_ONLINE, bridgeMsg.PayloadOn)
	require.Empty(bridgeMsg.AvTopic)

	gridMsg := byId[domain.SENSOR_ID_GRID_POWER]
	require.Equal("zeroexport/sensor/grid_power/state", gridMsg.StateTopic)
	require.Equal("zeroexport/bridge/state", gridMsg.AvTopic)
	require.Equal("W", gridMsg.UnitOfMeasurement)
	require.Equal([]string{bridge.Id}, gridMsg.Device.Id)

	availMsg := byId[domain.SENSOR_ID_INVERTER_AVAILABLE]
	require.Equal("zeroexport/binary_sensor/inverter_available/state", availMsg.StateTopic)
	require.Equal(MQTT_PAYLOAD_ON, availMsg.PayloadOn)
	require.Equal(MQTT_PAYLOAD_OFF, availMsg.PayloadOff)

	payload, err := json.Marshal(byId[domain.SENSOR_ID_REGULATOR_LAST_ERROR])
	require.NoError(err)
	require.Contains(string(payload), `"enabled_by_default":false`)

	require.Equal("homeassistant/sensor/"+bridge.Id+"/grid_power/config",
		HADiscoverySensorTopic(c.DiscoveryPrefix(), sensors[1]))
}
