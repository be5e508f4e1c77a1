package device

import (
	"context"

	"github.com/berfenger/zeroexport/internal/core/domain"
	"github.com/berfenger/zeroexport/internal/core/port"
	"github.com/berfenger/zeroexport/pkg/tasmota"
)

type TasmotaMeter struct {
	client *tasmota.Client
}

func NewTasmotaMeter(client *tasmota.Client) *TasmotaMeter {
	return &TasmotaMeter{client: client}
}

func (m *TasmotaMeter) ReadWatts(ctx context.Context) (int, error) {
	watts, err := m.client.ReadPowerWatt(ctx)
	if err != nil {
		return 0, classify(domain.DEVICE_METER, "read", err)
	}
	return truncWatts(domain.DEVICE_METER, m.client.PowerPath(), watts)
}

// ensure interface compliance
var _ port.PowerMeter = (*TasmotaMeter)(nil)
