package domain

import (
	"math"
	"time"
)

type RegulatorMode int

const (
	RegulatorModeNormal RegulatorMode = iota
	RegulatorModeDegraded
)

func (m RegulatorMode) String() string {
	switch m {
	case RegulatorModeNormal:
		return "normal"
	case RegulatorModeDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

type ControlBranch string

const (
	// grid import of any magnitude: ask for full inverter power
	ControlBranchMaximize ControlBranch = "maximize"
	// export or balanced: linear correction toward the band midpoint
	ControlBranchCorrect ControlBranch = "correct"
)

// RegulatorParams are the raw regulator settings as they come from configuration.
type RegulatorParams struct {
	MaxWatt        int
	MinWattPercent float64
	// MinWatt overrides MinWattPercent when > 0
	MinWatt            int
	TargetBandLow      int
	TargetBandHigh     int
	PollInterval       time.Duration
	RequestTimeout     time.Duration
	InverterID         uint
	ResendMaxOnFailure bool
}

// RegulatorConfig is the validated, immutable regulator configuration.
type RegulatorConfig struct {
	MaxWatt            int
	MinWatt            int
	TargetBandLow      int
	TargetBandHigh     int
	SetpointOffset     int
	PollInterval       time.Duration
	RequestTimeout     time.Duration
	InverterID         uint
	ResendMaxOnFailure bool
}

func NewRegulatorConfig(p RegulatorParams) (RegulatorConfig, error) {
	if p.MaxWatt <= 0 {
		return RegulatorConfig{}, &ConfigurationError{Param: "regulator.max_watt", Reason: "must be > 0"}
	}

	minWatt := p.MinWatt
	if minWatt < 0 {
		return RegulatorConfig{}, &ConfigurationError{Param: "regulator.min_watt", Reason: "must be >= 0"}
	}
	if minWatt == 0 {
		if p.MinWattPercent <= 0 || p.MinWattPercent > 100 {
			return RegulatorConfig{}, &ConfigurationError{Param: "regulator.min_watt_percent", Reason: "must be in (0, 100]"}
		}
		minWatt = int(float64(p.MaxWatt) / 100 * p.MinWattPercent)
		if minWatt <= 0 {
			return RegulatorConfig{}, &ConfigurationError{Param: "regulator.min_watt_percent", Reason: "derived min watt must be > 0"}
		}
	}
	if minWatt > p.MaxWatt {
		return RegulatorConfig{}, &ConfigurationError{Param: "regulator.min_watt", Reason: "must be <= regulator.max_watt"}
	}

	if p.TargetBandLow >= p.TargetBandHigh {
		return RegulatorConfig{}, &ConfigurationError{Param: "regulator.target_band_low", Reason: "must be < regulator.target_band_high"}
	}
	if p.TargetBandHigh > 0 {
		return RegulatorConfig{}, &ConfigurationError{Param: "regulator.target_band_high", Reason: "must be <= 0"}
	}
	if p.PollInterval <= 0 {
		return RegulatorConfig{}, &ConfigurationError{Param: "regulator.poll_interval_seconds", Reason: "must be > 0"}
	}
	if p.RequestTimeout <= 0 {
		return RegulatorConfig{}, &ConfigurationError{Param: "regulator.request_timeout_millis", Reason: "must be > 0"}
	}

	return RegulatorConfig{
		MaxWatt:            p.MaxWatt,
		MinWatt:            minWatt,
		TargetBandLow:      p.TargetBandLow,
		TargetBandHigh:     p.TargetBandHigh,
		SetpointOffset:     SetpointOffset(p.TargetBandLow, p.TargetBandHigh),
		PollInterval:       p.PollInterval,
		RequestTimeout:     p.RequestTimeout,
		InverterID:         p.InverterID,
		ResendMaxOnFailure: p.ResendMaxOnFailure,
	}, nil
}

// SetpointOffset is the magnitude of the target band midpoint, truncated toward zero.
func SetpointOffset(bandLow, bandHigh int) int {
	mid := float64(bandLow-bandHigh)/2 + float64(bandHigh)
	return int(math.Abs(float64(int(mid))))
}

// RegulatorState is the only memory carried from one control cycle to the next.
type RegulatorState struct {
	CurrentLimit int
	Mode         RegulatorMode
	LastSample   *CycleSample
	LastError    error
	Cycles       uint64
	LastCycleAt  time.Time
}

// CycleSample holds what was read from the devices during one cycle.
type CycleSample struct {
	InverterAvailable bool
	GridPowerWatt     int
	// MeterRead is false when the meter was never queried (inverter unavailable or failing)
	MeterRead bool
	Err       error
}

type CycleOutcome struct {
	Limit int
	Mode  RegulatorMode
	// SendCommand tells the caller to deliver Limit to the inverter
	SendCommand bool
	Tick        *LimitControlTickResult
	Reason      string
}

type LimitControlTickResult struct {
	NewLimit int
	RawLimit int
	Branch   ControlBranch
	Clamped  bool
}

// RegulatorStatus is a read-only snapshot of the regulator for the status API.
type RegulatorStatus struct {
	Mode                string    `json:"mode"`
	CurrentLimitWatt    int       `json:"current_limit_watt"`
	GridPowerWatt       *int      `json:"grid_power_watt,omitempty"`
	InverterAvailable   *bool     `json:"inverter_available,omitempty"`
	LastError           string    `json:"last_error,omitempty"`
	LastErrorKind       string    `json:"last_error_kind,omitempty"`
	Cycles              uint64    `json:"cycles"`
	LastCycleAt         time.Time `json:"last_cycle_at"`
	MaxWatt             int       `json:"max_watt"`
	MinWatt             int       `json:"min_watt"`
	SetpointOffset      int       `json:"setpoint_offset"`
	PollIntervalSeconds float64   `json:"poll_interval_seconds"`
}
