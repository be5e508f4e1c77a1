package sunspec_modbus

import (
	"errors"
	"time"

	"github.com/simonvetter/modbus"
	"go.uber.org/zap"
)

var ErrControlsNotSupported = errors.New("sunspec: controls block not supported")

type inverterIntSFModbusBlocks struct {
	common    uint16
	inverter  uint16
	nameplate uint16
	settings  uint16
	controls  uint16
}

func (blk *inverterIntSFModbusBlocks) AllBlocksDefined() bool {
	return blk.common > 0 && blk.inverter > 0 && blk.nameplate > 0 &&
		blk.settings > 0 && blk.controls > 0
}

type InverterIntSFModbusReader struct {
	ModbusClient

	logger        *zap.Logger
	blocks        inverterIntSFModbusBlocks
	maxPowerWatt  uint32
	ignoreFronius bool
}

func CreateInverterIntSFModbusReader(ip string, port uint, inverterAddress uint8, timeout time.Duration,
	ignoreFronius bool, logger *zap.Logger, instrumentation *ModbusInstrument) (InverterModbusReader, error) {

	logger = logger.With(zap.String("target", "inverter"), zap.Uint8("inverter", inverterAddress))

	client, err := newModbusClient(ip, port, inverterAddress, timeout, instruments(logger, instrumentation))
	if err != nil {
		return nil, err
	}
	return &InverterIntSFModbusReader{
		ModbusClient:  client,
		logger:        logger,
		ignoreFronius: ignoreFronius,
	}, nil
}

func (inv *InverterIntSFModbusReader) Open() error {
	if err := inv.client.Open(); err != nil {
		return err
	}
	if err := inv.survey(); err != nil {
		inv.client.Close()
		return err
	}
	maxPower, err := inv.readMaxPower()
	if err != nil {
		inv.client.Close()
		return err
	}
	inv.maxPowerWatt = maxPower
	return nil
}

func (inv *InverterIntSFModbusReader) Close() error {
	return inv.client.Close()
}

func (inv *InverterIntSFModbusReader) Validate() error {
	// check manufacturer
	if !inv.ignoreFronius {
		str, err := inv.readString(inv.blocks.common+2, 32)
		if err != nil {
			return err
		}
		if str != "Fronius" {
			return errors.New("could not find a Fronius inverter")
		}
	}
	if inv.blocks.controls == 0 {
		return ErrControlsNotSupported
	}
	return nil
}

func (inv *InverterIntSFModbusReader) GetInfo() (*InverterInfo, error) {
	manufacturer, err := inv.readString(inv.blocks.common+2, 32)
	if err != nil {
		return nil, err
	}
	model, err := inv.readString(inv.blocks.common+18, 32)
	if err != nil {
		return nil, err
	}
	version, err := inv.readString(inv.blocks.common+42, 16)
	if err != nil {
		return nil, err
	}
	serial, err := inv.readString(inv.blocks.common+50, 32)
	if err != nil {
		return nil, err
	}

	return &InverterInfo{
		Manufacturer:         manufacturer,
		Model:                model,
		Version:              version,
		Serial:               serial,
		MaxRatedPowerWatt:    inv.maxPowerWatt,
		SupportsPowerControl: inv.blocks.controls > 0,
	}, nil
}

func (inv *InverterIntSFModbusReader) GetState() (*InverterState, error) {
	// W at +14, W_SF at +15
	acpower, err := inv.readRegisters(inv.blocks.inverter+14, 2, modbus.HOLDING_REGISTER)
	if err != nil {
		return nil, err
	}
	state, err := inv.readRegister(inv.blocks.inverter+38, modbus.HOLDING_REGISTER)
	if err != nil {
		return nil, err
	}

	return &InverterState{
		ACPowerWatt:       applySFint16(int16(acpower[0]), acpower[1]),
		OperatingState:    state,
		OperatingStateStr: InverterStatusToString(state),
	}, nil
}

func (inv *InverterIntSFModbusReader) SetPowerLimit(powerLimit InverterPowerLimit) error {
	if inv.blocks.controls == 0 {
		return ErrControlsNotSupported
	}
	// write 0 to WMaxLim_Ena. A new value won't be accepted without this step
	err := inv.writeRegister(inv.blocks.controls+9, uint16(0))
	if err != nil {
		return err
	}
	if !powerLimit.Enabled {
		return nil
	}
	// get scale factor to write percent
	sf, err := inv.readRegister(inv.blocks.controls+23, modbus.HOLDING_REGISTER)
	if err != nil {
		return err
	}
	// build and write data array [WMaxLimPct, WMaxLimPct_WinTms, WMaxLimPct_RvrtTms, WMaxLimPct_RmpTms, WMaxLim_Ena]
	data := []uint16{uint16(applySFfloat64Inv(powerLimit.Percent, sf)), 0, powerLimit.RevertTimeSeconds, 0, 1}
	return inv.writeRegisters(inv.blocks.controls+5, data)
}

func (inv *InverterIntSFModbusReader) GetPowerLimit() (*InverterPowerLimit, error) {
	if inv.blocks.controls == 0 {
		return nil, ErrControlsNotSupported
	}
	regs, err := inv.readRegisters(inv.blocks.controls+5, 5, modbus.HOLDING_REGISTER)
	if err != nil {
		return nil, err
	}
	sf, err := inv.readRegister(inv.blocks.controls+23, modbus.HOLDING_REGISTER)
	if err != nil {
		return nil, err
	}

	return &InverterPowerLimit{
		Enabled:           regs[4] == 1,
		Percent:           applySF(regs[0], sf),
		RevertTimeSeconds: regs[2],
	}, nil
}

func (inv *InverterIntSFModbusReader) SetPowerLimitWatt(watts uint, revertTimeSeconds uint16) error {
	pct := PowerLimitPercent(watts, inv.maxPowerWatt)
	inv.logger.Debug("sunspec: set power limit", zap.Uint("watts", watts), zap.Float64("percent", pct))
	return inv.SetPowerLimit(InverterPowerLimit{
		Enabled:           true,
		Percent:           pct,
		RevertTimeSeconds: revertTimeSeconds,
	})
}

// readMaxPower prefers WMax from the settings model and falls back to the nameplate WRtg.
func (inv *InverterIntSFModbusReader) readMaxPower() (uint32, error) {
	if inv.blocks.settings > 0 {
		wmax, err := inv.readScaled(inv.blocks.settings+2, inv.blocks.settings+22, false)
		if err != nil {
			return 0, err
		}
		if wmax > 0 {
			return uint32(wmax), nil
		}
	}
	if inv.blocks.nameplate > 0 {
		wrtg, err := inv.readScaled(inv.blocks.nameplate+3, inv.blocks.nameplate+4, false)
		if err != nil {
			return 0, err
		}
		return uint32(wrtg), nil
	}
	return 0, nil
}

func (inv *InverterIntSFModbusReader) survey() error {
	blocks := inverterIntSFModbusBlocks{}
	err := surveyBlocks(inv.ModbusClient, func(block modbusBlock) bool {
		if block.id >= SUNSPEC_WK_INVERTERS_MIN && block.id <= SUNSPEC_WK_INVERTERS_MAX {
			blocks.inverter = block.baseAddr
		} else {
			switch block.id {
			case SUNSPEC_WK_COMMON:
				blocks.common = block.baseAddr
			case SUNSPEC_WK_NAMEPLATE:
				blocks.nameplate = block.baseAddr
			case SUNSPEC_WK_SETTINGS:
				blocks.settings = block.baseAddr
			case SUNSPEC_WK_CONTROLS:
				blocks.controls = block.baseAddr
			}
		}
		return blocks.AllBlocksDefined()
	})
	if err != nil {
		return err
	}
	if blocks.common > 0 && blocks.inverter > 0 {
		inv.blocks = blocks
		return nil
	}
	return errors.New("could not find all required sunspec blocks (common, inverter)")
}
