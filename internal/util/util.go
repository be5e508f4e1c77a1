package util

import (
	"github.com/berfenger/zeroexport/internal/config"

	"go.uber.org/zap"
)

func LoadTestConfig() config.Config {
	return config.Config{
		LogLevel: zap.DebugLevel,
		Meter: config.MeterConfig{
			Type: config.METER_TYPE_TASMOTA,
			Tasmota: config.TasmotaConfig{
				Host:      "-.-.-.-",
				StatusKey: "StatusSNS",
				SensorKey: "SML",
				PowerKey:  "curr_w",
			},
		},
		Inverter: config.InverterConfig{
			Type: config.INVERTER_TYPE_AHOY,
			Id:   0,
			Ahoy: config.AhoyConfig{
				Host: "-.-.-.-",
			},
		},
		Regulator: config.RegulatorConfig{
			MaxWatt:              1500,
			MinWattPercent:       5,
			TargetBandLow:        -100,
			TargetBandHigh:       -50,
			PollIntervalSeconds:  10,
			RequestTimeoutMillis: 2000,
		},
		MQTT: config.MQTTConfig{
			Host:             "localhost",
			Port:             1883,
			BaseTopic:        "zeroexport",
			HADiscoveryTopic: "homeassistant",
		},
		Port: 8080,
	}
}
