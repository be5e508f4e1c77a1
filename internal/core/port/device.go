package port

import (
	"context"
)

// PowerMeter reads the net power flow at the grid connection point.
// Positive values are grid import, negative values are export.
type PowerMeter interface {
	ReadWatts(ctx context.Context) (int, error)
}

// Inverter is a grid-tied inverter whose output can be capped.
type Inverter interface {
	IsAvailable(ctx context.Context) (bool, error)
	// SetLimit applies a non persistent absolute limit in watts.
	SetLimit(ctx context.Context, watts uint) error
}

// Connectable is implemented by devices holding a connection that must be
// opened before use and released on shutdown.
type Connectable interface {
	Open() error
	Close() error
}
