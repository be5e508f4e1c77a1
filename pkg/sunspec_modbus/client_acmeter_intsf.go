package sunspec_modbus

import (
	"errors"
	"time"

	"go.uber.org/zap"
)

type acMeterIntSFModbusBlocks struct {
	common  uint16
	acMeter uint16
}

func (blk *acMeterIntSFModbusBlocks) AllBlocksDefined() bool {
	return blk.common > 0 && blk.acMeter > 0
}

type ACMeterIntSFModbusReader struct {
	ModbusClient
	blocks        acMeterIntSFModbusBlocks
	ignoreFronius bool
}

func CreateACMeterIntSFModbusReader(ip string, port uint, acMeterAddress uint8, timeout time.Duration,
	ignoreFronius bool, logger *zap.Logger, instrumentation *ModbusInstrument) (ACMeterModbusReader, error) {

	inst := instruments(logger.With(zap.String("target", "acMeter"), zap.Uint8("acMeter", acMeterAddress)), instrumentation)

	client, err := newModbusClient(ip, port, acMeterAddress, timeout, inst)
	if err != nil {
		return nil, err
	}
	return &ACMeterIntSFModbusReader{
		ModbusClient:  client,
		ignoreFronius: ignoreFronius,
	}, nil
}

func (reader *ACMeterIntSFModbusReader) Open() error {
	if err := reader.client.Open(); err != nil {
		return err
	}
	if err := reader.survey(); err != nil {
		reader.client.Close()
		return err
	}
	return nil
}

func (reader *ACMeterIntSFModbusReader) Close() error {
	return reader.client.Close()
}

func (reader *ACMeterIntSFModbusReader) Validate() error {
	if reader.ignoreFronius {
		return nil
	}
	str, err := reader.readString(reader.blocks.common+2, 32)
	if err != nil {
		return err
	}
	if str != "Fronius" {
		return errors.New("could not find a Fronius smart meter")
	}
	return nil
}

func (reader *ACMeterIntSFModbusReader) GetInfo() (*ACMeterInfo, error) {
	manufacturer, err := reader.readString(reader.blocks.common+2, 32)
	if err != nil {
		return nil, err
	}
	model, err := reader.readString(reader.blocks.common+18, 32)
	if err != nil {
		return nil, err
	}
	version, err := reader.readString(reader.blocks.common+42, 16)
	if err != nil {
		return nil, err
	}
	serial, err := reader.readString(reader.blocks.common+50, 32)
	if err != nil {
		return nil, err
	}

	return &ACMeterInfo{
		Manufacturer: manufacturer,
		Model:        model,
		Version:      version,
		Serial:       serial,
	}, nil
}

func (reader *ACMeterIntSFModbusReader) GetCurrentPowerFlowWatt() (float64, error) {
	if !reader.blocks.AllBlocksDefined() {
		return 0, errors.New("sunspec: meter not surveyed")
	}
	// W at +18, W_SF at +22
	return reader.readScaled(reader.blocks.acMeter+18, reader.blocks.acMeter+22, true)
}

func (reader *ACMeterIntSFModbusReader) survey() error {
	blocks := acMeterIntSFModbusBlocks{}
	err := surveyBlocks(reader.ModbusClient, func(block modbusBlock) bool {
		switch {
		case block.id == SUNSPEC_WK_COMMON && blocks.common == 0:
			blocks.common = block.baseAddr
		case block.id >= SUNSPEC_WK_AC_METERS_MIN && block.id <= SUNSPEC_WK_AC_METERS_MAX && blocks.acMeter == 0:
			blocks.acMeter = block.baseAddr
		}
		return blocks.AllBlocksDefined()
	})
	if err != nil {
		return err
	}
	if !blocks.AllBlocksDefined() {
		return errors.New("could not find all required sunspec blocks (common, ac_meter)")
	}
	reader.blocks = blocks
	return nil
}
