package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/berfenger/zeroexport/internal/core/domain"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	ENV_PREFIX = "zeroexport"

	METER_TYPE_TASMOTA    = "tasmota"
	METER_TYPE_SUNSPEC    = "sunspec"
	INVERTER_TYPE_AHOY    = "ahoy"
	INVERTER_TYPE_SUNSPEC = "sunspec"

	MAX_MODBUS_UNIT_ID = 247
)

type Config struct {
	LogLevel  zapcore.Level
	Meter     MeterConfig     `mapstructure:"meter"`
	Inverter  InverterConfig  `mapstructure:"inverter"`
	Regulator RegulatorConfig `mapstructure:"regulator"`
	MQTT      MQTTConfig      `mapstructure:"mqtt"`
	Port      uint            `mapstructure:"port"`
	HttpLog   bool            `mapstructure:"http_log"`
}

type MeterConfig struct {
	Type    string
	Tasmota TasmotaConfig   `mapstructure:"tasmota"`
	SunSpec ModbusTCPConfig `mapstructure:"sunspec"`
}

type TasmotaConfig struct {
	Host      string
	User      string
	Password  string
	StatusKey string `mapstructure:"status_key"`
	SensorKey string `mapstructure:"sensor_key"`
	PowerKey  string `mapstructure:"power_key"`
}

type InverterConfig struct {
	Type    string
	Id      uint
	Ahoy    AhoyConfig      `mapstructure:"ahoy"`
	SunSpec ModbusTCPConfig `mapstructure:"sunspec"`
}

type AhoyConfig struct {
	Host string
}

type ModbusTCPConfig struct {
	Host          string
	Port          uint
	UnitId        uint   `mapstructure:"unit_id"`
	IgnoreFronius bool   `mapstructure:"ignore_fronius"`
	RevertSeconds uint16 `mapstructure:"revert_seconds"`
}

type RegulatorConfig struct {
	MaxWatt              int     `mapstructure:"max_watt"`
	MinWattPercent       float64 `mapstructure:"min_watt_percent"`
	MinWatt              int     `mapstructure:"min_watt"`
	TargetBandLow        int     `mapstructure:"target_band_low"`
	TargetBandHigh       int     `mapstructure:"target_band_high"`
	PollIntervalSeconds  float64 `mapstructure:"poll_interval_seconds"`
	RequestTimeoutMillis uint32  `mapstructure:"request_timeout_millis"`
	ResendMaxOnFailure   bool    `mapstructure:"resend_max_on_failure"`
}

type MQTTConfig struct {
	Enable            bool
	Host              string
	Port              int
	Username          string
	Password          string
	BaseTopic         string `mapstructure:"base_topic"`
	HADiscoveryEnable bool   `mapstructure:"ha_discovery_enable"`
	HADiscoveryTopic  string `mapstructure:"ha_discovery_topic"`
}

// RegulatorParams converts the raw regulator section. The result still has to
// be validated with domain.NewRegulatorConfig.
func (cfg Config) RegulatorParams() domain.RegulatorParams {
	return domain.RegulatorParams{
		MaxWatt:            cfg.Regulator.MaxWatt,
		MinWattPercent:     cfg.Regulator.MinWattPercent,
		MinWatt:            cfg.Regulator.MinWatt,
		TargetBandLow:      cfg.Regulator.TargetBandLow,
		TargetBandHigh:     cfg.Regulator.TargetBandHigh,
		PollInterval:       time.Duration(cfg.Regulator.PollIntervalSeconds * float64(time.Second)),
		RequestTimeout:     time.Duration(cfg.Regulator.RequestTimeoutMillis) * time.Millisecond,
		InverterID:         cfg.Inverter.Id,
		ResendMaxOnFailure: cfg.Regulator.ResendMaxOnFailure,
	}
}

func (cfg Config) RequestTimeout() time.Duration {
	return time.Duration(cfg.Regulator.RequestTimeoutMillis) * time.Millisecond
}

// Load reads defaults, the optional CONFIG_FILE yaml and ZEROEXPORT_ env vars.
func Load(v *viper.Viper) (*Config, error) {

	// alias PORT => ZEROEXPORT_PORT
	if port := os.Getenv("PORT"); port != "" {
		os.Setenv("ZEROEXPORT_PORT", port)
	}

	SetDefaults(v)

	v.SetEnvPrefix(ENV_PREFIX)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// if defined, try to load config from yaml file
	if cfgFile := os.Getenv("CONFIG_FILE"); cfgFile != "" {
		if _, err := os.Stat(cfgFile); err == nil {
			slog.Info("Using config", "file", cfgFile)
			v.SetConfigFile(cfgFile)

			err = v.ReadInConfig()
			if err != nil {
				return nil, fmt.Errorf("error reading config file %s: %w", cfgFile, err)
			}
		}
	}

	var cfg Config

	err := v.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}

	cfg.LogLevel = parseLogLevel(v.GetString("log_level"))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (cfg *Config) Validate() error {

	cfg.Meter.Type = strings.ToLower(cfg.Meter.Type)
	switch cfg.Meter.Type {
	case METER_TYPE_TASMOTA:
		if cfg.Meter.Tasmota.Host == "" {
			return &domain.ConfigurationError{Param: "meter.tasmota.host", Reason: "required"}
		}
	case METER_TYPE_SUNSPEC:
		if cfg.Meter.SunSpec.Host == "" {
			return &domain.ConfigurationError{Param: "meter.sunspec.host", Reason: "required"}
		}
		if err := checkUnitId("meter.sunspec.unit_id", cfg.Meter.SunSpec.UnitId); err != nil {
			return err
		}
	default:
		return &domain.ConfigurationError{Param: "meter.type", Reason: fmt.Sprintf("unknown meter type %q", cfg.Meter.Type)}
	}

	cfg.Inverter.Type = strings.ToLower(cfg.Inverter.Type)
	switch cfg.Inverter.Type {
	case INVERTER_TYPE_AHOY:
		if cfg.Inverter.Ahoy.Host == "" {
			return &domain.ConfigurationError{Param: "inverter.ahoy.host", Reason: "required"}
		}
	case INVERTER_TYPE_SUNSPEC:
		if cfg.Inverter.SunSpec.Host == "" {
			return &domain.ConfigurationError{Param: "inverter.sunspec.host", Reason: "required"}
		}
		if err := checkUnitId("inverter.sunspec.unit_id", cfg.Inverter.SunSpec.UnitId); err != nil {
			return err
		}
	default:
		return &domain.ConfigurationError{Param: "inverter.type", Reason: fmt.Sprintf("unknown inverter type %q", cfg.Inverter.Type)}
	}

	// check regulator bounds
	if _, err := domain.NewRegulatorConfig(cfg.RegulatorParams()); err != nil {
		return err
	}

	// check and fix base topic
	baseTopic, err := CheckMQTTTopic(cfg.MQTT.BaseTopic)
	if err != nil {
		return &domain.ConfigurationError{Param: "mqtt.base_topic", Reason: err.Error()}
	}
	cfg.MQTT.BaseTopic = baseTopic

	// check and fix homeassistant discovery topic
	hadBaseTopic, err := CheckMQTTTopic(cfg.MQTT.HADiscoveryTopic)
	if err != nil {
		return &domain.ConfigurationError{Param: "mqtt.ha_discovery_topic", Reason: err.Error()}
	}
	cfg.MQTT.HADiscoveryTopic = hadBaseTopic

	if cfg.MQTT.Enable && cfg.MQTT.Host == "" {
		return &domain.ConfigurationError{Param: "mqtt.host", Reason: "required when mqtt is enabled"}
	}

	return nil
}

// checkUnitId accepts the modbus slave address range.
func checkUnitId(param string, unitId uint) error {
	if unitId > MAX_MODBUS_UNIT_ID {
		return &domain.ConfigurationError{Param: param, Reason: fmt.Sprintf("must be <= %d", MAX_MODBUS_UNIT_ID)}
	}
	return nil
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("port", 8080)
	v.SetDefault("http_log", false)
	v.SetDefault("meter.type", METER_TYPE_TASMOTA)
	v.SetDefault("meter.tasmota.host", "")
	v.SetDefault("meter.tasmota.user", "")
	v.SetDefault("meter.tasmota.password", "")
	v.SetDefault("meter.tasmota.status_key", "StatusSNS")
	v.SetDefault("meter.tasmota.sensor_key", "SML")
	v.SetDefault("meter.tasmota.power_key", "curr_w")
	v.SetDefault("meter.sunspec.host", "")
	v.SetDefault("meter.sunspec.port", 502)
	v.SetDefault("meter.sunspec.unit_id", 200)
	v.SetDefault("meter.sunspec.ignore_fronius", false)
	v.SetDefault("inverter.type", INVERTER_TYPE_AHOY)
	v.SetDefault("inverter.id", 0)
	v.SetDefault("inverter.ahoy.host", "")
	v.SetDefault("inverter.sunspec.host", "")
	v.SetDefault("inverter.sunspec.port", 502)
	v.SetDefault("inverter.sunspec.unit_id", 1)
	v.SetDefault("inverter.sunspec.ignore_fronius", false)
	v.SetDefault("inverter.sunspec.revert_seconds", 0)
	v.SetDefault("regulator.max_watt", 1500)
	v.SetDefault("regulator.min_watt_percent", 5)
	v.SetDefault("regulator.min_watt", 0)
	v.SetDefault("regulator.target_band_low", -100)
	v.SetDefault("regulator.target_band_high", -50)
	v.SetDefault("regulator.poll_interval_seconds", 10)
	v.SetDefault("regulator.request_timeout_millis", 2000)
	v.SetDefault("regulator.resend_max_on_failure", false)
	v.SetDefault("mqtt.enable", false)
	v.SetDefault("mqtt.host", "")
	v.SetDefault("mqtt.port", 1883)
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.ha_discovery_enable", false)
	v.SetDefault("mqtt.base_topic", "zeroexport")
	v.SetDefault("mqtt.ha_discovery_topic", "homeassistant")
}

func parseLogLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zap.DebugLevel
	case "debug":
		return zap.DebugLevel
	case "info":
		return zap.InfoLevel
	case "error":
		return zap.ErrorLevel
	case "warn":
		return zap.WarnLevel
	case "fatal":
		return zap.FatalLevel
	default:
		return zap.InfoLevel
	}
}

// Redacted returns a copy safe to log.
func (cfg Config) Redacted() Config {
	if cfg.MQTT.Username != "" {
		cfg.MQTT.Username = "*redacted*"
	}
	if cfg.MQTT.Password != "" {
		cfg.MQTT.Password = "*redacted*"
	}
	if cfg.Meter.Tasmota.Password != "" {
		cfg.Meter.Tasmota.Password = "*redacted*"
	}
	return cfg
}

func CheckMQTTTopic(baseTopic string) (string, error) {
	// check and fix base topic
	lowerBaseTopic := strings.ToLower(baseTopic)
	baseTopicRegexp := regexp.MustCompile("^[a-z0-9_]+$")
	matches := baseTopicRegexp.FindAllStringSubmatch(lowerBaseTopic, 1)
	if len(matches) <= 0 {
		return "", errors.New("invalid topic. can only contain letters, numbers and underscores")
	}
	return lowerBaseTopic, nil
}
