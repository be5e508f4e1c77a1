package sunspec_modbus

import (
	"fmt"
)

const (
	InverterStatusOff          = 1
	InverterStatusSleeping     = 2
	InverterStatusStarting     = 3
	InverterStatusMPPT         = 4
	InverterStatusThrottled    = 5
	InverterStatusShuttingDown = 6
	InverterStatusFault        = 7
	InverterStatusStandby      = 8
)

const (
	InverterStatusOffStr          = "off"
	InverterStatusSleepingStr     = "sleeping"
	InverterStatusStartingStr     = "starting"
	InverterStatusMPPTStr         = "mppt_tracking"
	InverterStatusThrottledStr    = "throttled"
	InverterStatusShuttingDownStr = "shutting_down"
	InverterStatusFaultStr        = "fault"
	InverterStatusStandbyStr      = "standby"
	InverterStatusUnknown         = "unknown"
)

func InverterStatusToString(state uint16) string {
	switch state {
	case InverterStatusOff:
		return InverterStatusOffStr
	case InverterStatusSleeping:
		return InverterStatusSleepingStr
	case InverterStatusStarting:
		return InverterStatusStartingStr
	case InverterStatusMPPT:
		return InverterStatusMPPTStr
	case InverterStatusThrottled:
		return InverterStatusThrottledStr
	case InverterStatusShuttingDown:
		return InverterStatusShuttingDownStr
	case InverterStatusFault:
		return InverterStatusFaultStr
	case InverterStatusStandby:
		return InverterStatusStandbyStr
	default:
		return fmt.Sprintf("%s(%d)", InverterStatusUnknown, state)
	}
}

// InverterStatusAcceptsLimit tells whether an inverter in this operating
// state is producing, or about to, and can take a power limit.
func InverterStatusAcceptsLimit(state uint16) bool {
	switch state {
	case InverterStatusOff, InverterStatusSleeping, InverterStatusShuttingDown, InverterStatusFault:
		return false
	default:
		return true
	}
}

type InverterInfo struct {
	Manufacturer         string
	Model                string
	Version              string
	Serial               string
	MaxRatedPowerWatt    uint32
	SupportsPowerControl bool
}

type InverterState struct {
	ACPowerWatt       float64
	OperatingState    uint16
	OperatingStateStr string
}

func (s InverterState) Available() bool {
	return InverterStatusAcceptsLimit(s.OperatingState)
}

type InverterPowerLimit struct {
	Enabled           bool
	Percent           float64
	RevertTimeSeconds uint16
}

type InverterModbusReader interface {
	Open() error
	Close() error
	Validate() error
	GetInfo() (*InverterInfo, error)
	GetState() (*InverterState, error)

	SetPowerLimit(powerLimit InverterPowerLimit) error
	GetPowerLimit() (*InverterPowerLimit, error)
	// SetPowerLimitWatt converts watts to a percent of the rated power
	SetPowerLimitWatt(watts uint, revertTimeSeconds uint16) error
}

// PowerLimitPercent converts an absolute limit to a WMaxLimPct value in [0, 100].
func PowerLimitPercent(watts uint, maxRatedPowerWatt uint32) float64 {
	if maxRatedPowerWatt == 0 {
		return 100
	}
	pct := float64(watts) / float64(maxRatedPowerWatt) * 100
	if pct > 100 {
		return 100
	}
	return pct
}
