package service

import (
	"time"

	"github.com/berfenger/zeroexport/internal/core/domain"
	"github.com/berfenger/zeroexport/internal/core/port"
)

// Regulator owns the control state and implements the NORMAL/DEGRADED
// state machine. It performs no I/O: callers feed it the readings of a cycle
// and deliver the resulting command themselves.
type Regulator struct {
	config domain.RegulatorConfig
	logic  port.LimitControlLogic
	state  domain.RegulatorState
	now    func() time.Time
}

func NewRegulator(config domain.RegulatorConfig, logic port.LimitControlLogic) *Regulator {
	return &Regulator{
		config: config,
		logic:  logic,
		state: domain.RegulatorState{
			CurrentLimit: config.MaxWatt,
			Mode:         domain.RegulatorModeNormal,
		},
		now: time.Now,
	}
}

// Start resets the limit to the maximum and returns the startup command.
func (r *Regulator) Start() int {
	r.state.CurrentLimit = r.config.MaxWatt
	r.state.Mode = domain.RegulatorModeNormal
	return r.state.CurrentLimit
}

func (r *Regulator) State() domain.RegulatorState {
	return r.state
}

func (r *Regulator) Mode() domain.RegulatorMode {
	return r.state.Mode
}

func (r *Regulator) Config() domain.RegulatorConfig {
	return r.config
}

// Cycle applies the readings of one control cycle.
func (r *Regulator) Cycle(sample domain.CycleSample) domain.CycleOutcome {
	r.state.Cycles++
	r.state.LastCycleAt = r.now()
	r.state.LastSample = &sample

	if sample.Err != nil {
		// the inverter was either available or never answered
		return r.degrade(sample.Err, true)
	}
	if !sample.InverterAvailable {
		return r.degrade(domain.ErrInverterUnavailable, false)
	}

	tick := r.logic.Loop(r.state.CurrentLimit, sample.GridPowerWatt)
	r.state.CurrentLimit = tick.NewLimit
	r.state.Mode = domain.RegulatorModeNormal
	r.state.LastError = nil

	return domain.CycleOutcome{
		Limit:       tick.NewLimit,
		Mode:        domain.RegulatorModeNormal,
		SendCommand: true,
		Tick:        &tick,
		Reason:      string(tick.Branch),
	}
}

// CommandFailed records an undelivered limit command.
func (r *Regulator) CommandFailed(err error) domain.CycleOutcome {
	return r.degrade(err, false)
}

func (r *Regulator) degrade(err error, resendAllowed bool) domain.CycleOutcome {
	r.state.CurrentLimit = r.config.MaxWatt
	r.state.Mode = domain.RegulatorModeDegraded
	r.state.LastError = err

	return domain.CycleOutcome{
		Limit:       r.state.CurrentLimit,
		Mode:        domain.RegulatorModeDegraded,
		SendCommand: resendAllowed && r.config.ResendMaxOnFailure,
		Reason:      err.Error(),
	}
}

func (r *Regulator) Status() domain.RegulatorStatus {
	status := domain.RegulatorStatus{
		Mode:                r.state.Mode.String(),
		CurrentLimitWatt:    r.state.CurrentLimit,
		Cycles:              r.state.Cycles,
		LastCycleAt:         r.state.LastCycleAt,
		MaxWatt:             r.config.MaxWatt,
		MinWatt:             r.config.MinWatt,
		SetpointOffset:      r.config.SetpointOffset,
		PollIntervalSeconds: r.config.PollInterval.Seconds(),
	}
	if r.state.LastError != nil {
		status.LastError = r.state.LastError.Error()
		status.LastErrorKind = domain.ErrorKind(r.state.LastError)
	}
	if sample := r.state.LastSample; sample != nil && sample.Err == nil {
		available := sample.InverterAvailable
		status.InverterAvailable = &available
		if sample.MeterRead {
			power := sample.GridPowerWatt
			status.GridPowerWatt = &power
		}
	}
	return status
}
