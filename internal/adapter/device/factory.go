package device

import (
	"fmt"

	"github.com/berfenger/zeroexport/internal/config"
	"github.com/berfenger/zeroexport/internal/core/domain"
	"github.com/berfenger/zeroexport/internal/core/port"
	"github.com/berfenger/zeroexport/internal/util"
	"github.com/berfenger/zeroexport/pkg/ahoy"
	"github.com/berfenger/zeroexport/pkg/sunspec_modbus"
	"github.com/berfenger/zeroexport/pkg/tasmota"

	"go.uber.org/zap"
)

// NewPowerMeter builds the meter selected by meter.type.
func NewPowerMeter(cfg config.Config, logger *zap.Logger) (port.PowerMeter, error) {
	switch cfg.Meter.Type {
	case config.METER_TYPE_TASMOTA:
		client := tasmota.NewClient(tasmota.Config{
			Host:      cfg.Meter.Tasmota.Host,
			User:      cfg.Meter.Tasmota.User,
			Password:  cfg.Meter.Tasmota.Password,
			StatusKey: cfg.Meter.Tasmota.StatusKey,
			SensorKey: cfg.Meter.Tasmota.SensorKey,
			PowerKey:  cfg.Meter.Tasmota.PowerKey,
		}, util.HTTPClient(cfg.RequestTimeout()))
		return NewTasmotaMeter(client), nil
	case config.METER_TYPE_SUNSPEC:
		reader, err := sunspec_modbus.CreateACMeterIntSFModbusReader(cfg.Meter.SunSpec.Host, cfg.Meter.SunSpec.Port,
			uint8(cfg.Meter.SunSpec.UnitId), cfg.RequestTimeout(), cfg.Meter.SunSpec.IgnoreFronius, logger, nil)
		if err != nil {
			return nil, err
		}
		return NewSunSpecMeter(reader), nil
	default:
		return nil, &domain.ConfigurationError{Param: "meter.type", Reason: fmt.Sprintf("unknown meter type %q", cfg.Meter.Type)}
	}
}

// NewInverter builds the inverter selected by inverter.type.
func NewInverter(cfg config.Config, logger *zap.Logger) (port.Inverter, error) {
	switch cfg.Inverter.Type {
	case config.INVERTER_TYPE_AHOY:
		client := ahoy.NewClient(cfg.Inverter.Ahoy.Host, util.HTTPClient(cfg.RequestTimeout()))
		return NewAhoyInverter(client, cfg.Inverter.Id), nil
	case config.INVERTER_TYPE_SUNSPEC:
		reader, err := sunspec_modbus.CreateInverterIntSFModbusReader(cfg.Inverter.SunSpec.Host, cfg.Inverter.SunSpec.Port,
			uint8(cfg.Inverter.SunSpec.UnitId), cfg.RequestTimeout(), cfg.Inverter.SunSpec.IgnoreFronius, logger, nil)
		if err != nil {
			return nil, err
		}
		return NewSunSpecInverter(reader, cfg.Inverter.SunSpec.RevertSeconds), nil
	default:
		return nil, &domain.ConfigurationError{Param: "inverter.type", Reason: fmt.Sprintf("unknown inverter type %q", cfg.Inverter.Type)}
	}
}
