package service

import (
	"github.com/berfenger/zeroexport/internal/core/domain"
	"github.com/berfenger/zeroexport/internal/core/port"

	"go.uber.org/zap"
)

// DefaultLimitControlLogic is a single state integral-like law: the previous
// limit is the integrator, any grid import saturates to full power and any
// export is subtracted from the limit, biased by the setpoint offset.
type DefaultLimitControlLogic struct {
	MaxWatt        int
	MinWatt        int
	SetpointOffset int
	Logger         *zap.Logger
}

func NewDefaultLimitControlLogic(cfg domain.RegulatorConfig, logger *zap.Logger) *DefaultLimitControlLogic {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DefaultLimitControlLogic{
		MaxWatt:        cfg.MaxWatt,
		MinWatt:        cfg.MinWatt,
		SetpointOffset: cfg.SetpointOffset,
		Logger:         logger,
	}
}

func (cfg *DefaultLimitControlLogic) Loop(prevLimit int, gridPowerWatt int) domain.LimitControlTickResult {

	var rawLimit int
	var branch domain.ControlBranch

	if gridPowerWatt > 0 {
		// not enough power: increase limit to maximum
		rawLimit = cfg.MaxWatt
		branch = domain.ControlBranchMaximize
	} else {
		rawLimit = prevLimit + gridPowerWatt + cfg.SetpointOffset
		branch = domain.ControlBranchCorrect
	}

	newLimit, clamped := cfg.Clamp(rawLimit)

	cfg.Logger.Debug("limit_control: tick",
		zap.Int("prev_limit", prevLimit),
		zap.Int("grid_power", gridPowerWatt),
		zap.String("branch", string(branch)),
		zap.Int("raw_limit", rawLimit),
		zap.Int("new_limit", newLimit))

	return domain.LimitControlTickResult{
		NewLimit: newLimit,
		RawLimit: rawLimit,
		Branch:   branch,
		Clamped:  clamped,
	}
}

func (cfg *DefaultLimitControlLogic) Clamp(limit int) (int, bool) {
	if limit > cfg.MaxWatt {
		return cfg.MaxWatt, true
	}
	if limit < cfg.MinWatt {
		return cfg.MinWatt, true
	}
	return limit, false
}

func (cfg *DefaultLimitControlLogic) MaxLimit() int {
	return cfg.MaxWatt
}

// ensure interface compliance
var _ port.LimitControlLogic = (*DefaultLimitControlLogic)(nil)
