package sunspec_modbus

import "sync"

// In-memory readers used by tests of the packages that consume this one.

func CreateTestACMeterModbusReader() (*TestACMeterModbusReader, error) {
	return &TestACMeterModbusReader{PowerFlowWatt: -1250}, nil
}

func CreateTestInverterModbusReader() (*TestInverterModbusReader, error) {
	return &TestInverterModbusReader{
		OperatingState:    InverterStatusMPPT,
		MaxRatedPowerWatt: 4000,
	}, nil
}

// ACMeter

type TestACMeterModbusReader struct {
	PowerFlowWatt float64
	Err           error
}

func (reader *TestACMeterModbusReader) Open() error {
	return nil
}

func (reader *TestACMeterModbusReader) Close() error {
	return nil
}

func (reader *TestACMeterModbusReader) Validate() error {
	return nil
}

func (reader *TestACMeterModbusReader) GetInfo() (*ACMeterInfo, error) {
	return &ACMeterInfo{
		Manufacturer: "Fronius",
		Model:        "Smart Meter TS 100A-1",
		Version:      "1.2",
	}, nil
}

func (reader *TestACMeterModbusReader) GetCurrentPowerFlowWatt() (float64, error) {
	if reader.Err != nil {
		return 0, reader.Err
	}
	return reader.PowerFlowWatt, nil
}

// Inverter

type TestInverterModbusReader struct {
	mu                sync.Mutex
	OperatingState    uint16
	MaxRatedPowerWatt uint32
	Err               error
	Limits            []InverterPowerLimit
}

func (inv *TestInverterModbusReader) Open() error {
	return nil
}

func (inv *TestInverterModbusReader) Close() error {
	return nil
}

func (inv *TestInverterModbusReader) Validate() error {
	return nil
}

func (inv *TestInverterModbusReader) GetInfo() (*InverterInfo, error) {
	return &InverterInfo{
		Manufacturer:         "Fronius",
		Model:                "Primo GEN24 4.0",
		Version:              "1.30.7-1",
		MaxRatedPowerWatt:    inv.MaxRatedPowerWatt,
		SupportsPowerControl: true,
	}, nil
}

func (inv *TestInverterModbusReader) GetState() (*InverterState, error) {
	if inv.Err != nil {
		return nil, inv.Err
	}
	return &InverterState{
		ACPowerWatt:       320.2,
		OperatingState:    inv.OperatingState,
		OperatingStateStr: InverterStatusToString(inv.OperatingState),
	}, nil
}

func (inv *TestInverterModbusReader) SetPowerLimit(powerLimit InverterPowerLimit) error {
	if inv.Err != nil {
		return inv.Err
	}
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.Limits = append(inv.Limits, powerLimit)
	return nil
}

func (inv *TestInverterModbusReader) GetPowerLimit() (*InverterPowerLimit, error) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if len(inv.Limits) == 0 {
		return &InverterPowerLimit{Percent: 100}, nil
	}
	last := inv.Limits[len(inv.Limits)-1]
	return &last, nil
}

func (inv *TestInverterModbusReader) SetPowerLimitWatt(watts uint, revertTimeSeconds uint16) error {
	return inv.SetPowerLimit(InverterPowerLimit{
		Enabled:           true,
		Percent:           PowerLimitPercent(watts, inv.MaxRatedPowerWatt),
		RevertTimeSeconds: revertTimeSeconds,
	})
}

// ensure interface compliance
var (
	_ ACMeterModbusReader  = (*TestACMeterModbusReader)(nil)
	_ InverterModbusReader = (*TestInverterModbusReader)(nil)
	_ ACMeterModbusReader  = (*ACMeterIntSFModbusReader)(nil)
	_ InverterModbusReader = (*InverterIntSFModbusReader)(nil)
)
