package port

import "github.com/berfenger/zeroexport/internal/core/domain"

type LimitControlLogic interface {
	Loop(prevLimit int, gridPowerWatt int) domain.LimitControlTickResult
	Clamp(limit int) (int, bool)
	MaxLimit() int
}
