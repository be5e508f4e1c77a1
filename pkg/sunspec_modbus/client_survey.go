package sunspec_modbus

import (
	"errors"

	"github.com/simonvetter/modbus"
)

const (
	SUNSPEC_BASE_ADDR        = 40000
	SUNSPEC_WK_COMMON        = 1
	SUNSPEC_WK_INVERTERS_MIN = 101
	SUNSPEC_WK_INVERTERS_MAX = 103
	SUNSPEC_WK_NAMEPLATE     = 120
	SUNSPEC_WK_SETTINGS      = 121
	SUNSPEC_WK_CONTROLS      = 123
	SUNSPEC_WK_AC_METERS_MIN = 201
	SUNSPEC_WK_AC_METERS_MAX = 204
	SUNSPEC_WK_END           = 0xFFFF
	sunspecMarker            = "SunS"
	maxSurveyedBlocks        = 20
)

var ErrNotSunSpec = errors.New("sunspec: SunS marker not found")

type modbusBlock struct {
	id       uint16
	baseAddr uint16
	length   uint16
}

func (block *modbusBlock) isEndBlock() bool {
	return block.id == SUNSPEC_WK_END
}

// surveyBlocks walks the SunSpec model chain and returns the base address of
// the first block found for every model id. visit returns true to stop early.
func surveyBlocks(reader ModbusClient, visit func(block modbusBlock) bool) error {

	// check SunSpec
	str, err := reader.readString(SUNSPEC_BASE_ADDR, 4)
	if err != nil {
		return err
	}
	if str != sunspecMarker {
		return ErrNotSunSpec
	}

	var baseAddr uint16 = SUNSPEC_BASE_ADDR + 2
	for n := 0; n < maxSurveyedBlocks; n++ {
		block, err := surveyModbusBlock(reader, baseAddr)
		if err != nil {
			return err
		}
		if block.isEndBlock() {
			return nil
		}
		if visit(*block) {
			return nil
		}
		baseAddr = baseAddr + block.length + 2
	}
	return nil
}

func surveyModbusBlock(reader ModbusClient, baseAddr uint16) (*modbusBlock, error) {
	regs, err := reader.readRegisters(baseAddr, 2, modbus.HOLDING_REGISTER)
	if err != nil {
		return nil, err
	}
	return &modbusBlock{
		id:       regs[0],
		length:   regs[1],
		baseAddr: baseAddr,
	}, nil
}
