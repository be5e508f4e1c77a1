package device

import (
	"context"

	"github.com/berfenger/zeroexport/internal/core/domain"
	"github.com/berfenger/zeroexport/internal/core/port"
	"github.com/berfenger/zeroexport/pkg/sunspec_modbus"
)

// SunSpecMeter reads the grid power from a SunSpec smart meter (models 201-204).
// Modbus calls are bounded by the client timeout, ctx is only checked upfront.
type SunSpecMeter struct {
	reader sunspec_modbus.ACMeterModbusReader
}

func NewSunSpecMeter(reader sunspec_modbus.ACMeterModbusReader) *SunSpecMeter {
	return &SunSpecMeter{reader: reader}
}

func (m *SunSpecMeter) Open() error {
	if err := m.reader.Open(); err != nil {
		return domain.NewCommunicationError(domain.DEVICE_METER, "open", err)
	}
	if err := m.reader.Validate(); err != nil {
		m.reader.Close()
		return domain.NewCommunicationError(domain.DEVICE_METER, "validate", err)
	}
	return nil
}

func (m *SunSpecMeter) Close() error {
	return m.reader.Close()
}

func (m *SunSpecMeter) ReadWatts(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, domain.NewCommunicationError(domain.DEVICE_METER, "read", err)
	}
	watts, err := m.reader.GetCurrentPowerFlowWatt()
	if err != nil {
		return 0, domain.NewCommunicationError(domain.DEVICE_METER, "read", err)
	}
	return truncWatts(domain.DEVICE_METER, "W", watts)
}

// SunSpecInverter limits a SunSpec inverter through the controls model (123).
type SunSpecInverter struct {
	reader        sunspec_modbus.InverterModbusReader
	revertSeconds uint16
}

func NewSunSpecInverter(reader sunspec_modbus.InverterModbusReader, revertSeconds uint16) *SunSpecInverter {
	return &SunSpecInverter{
		reader:        reader,
		revertSeconds: revertSeconds,
	}
}

func (inv *SunSpecInverter) Open() error {
	if err := inv.reader.Open(); err != nil {
		return domain.NewCommunicationError(domain.DEVICE_INVERTER, "open", err)
	}
	if err := inv.reader.Validate(); err != nil {
		inv.reader.Close()
		return domain.NewCommunicationError(domain.DEVICE_INVERTER, "validate", err)
	}
	return nil
}

func (inv *SunSpecInverter) Close() error {
	return inv.reader.Close()
}

func (inv *SunSpecInverter) IsAvailable(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, domain.NewCommunicationError(domain.DEVICE_INVERTER, "status", err)
	}
	state, err := inv.reader.GetState()
	if err != nil {
		return false, domain.NewCommunicationError(domain.DEVICE_INVERTER, "status", err)
	}
	return state.Available(), nil
}

func (inv *SunSpecInverter) SetLimit(ctx context.Context, watts uint) error {
	if err := ctx.Err(); err != nil {
		return domain.NewCommunicationError(domain.DEVICE_INVERTER, "set_limit", err)
	}
	if err := inv.reader.SetPowerLimitWatt(watts, inv.revertSeconds); err != nil {
		return domain.NewCommunicationError(domain.DEVICE_INVERTER, "set_limit", err)
	}
	return nil
}

// ensure interface compliance
var (
	_ port.PowerMeter  = (*SunSpecMeter)(nil)
	_ port.Connectable = (*SunSpecMeter)(nil)
	_ port.Inverter    = (*SunSpecInverter)(nil)
	_ port.Connectable = (*SunSpecInverter)(nil)
)
