package device

import (
	"context"

	"github.com/berfenger/zeroexport/internal/core/domain"
	"github.com/berfenger/zeroexport/internal/core/port"
	"github.com/berfenger/zeroexport/pkg/ahoy"
)

type AhoyInverter struct {
	client     *ahoy.Client
	inverterId uint
}

func NewAhoyInverter(client *ahoy.Client, inverterId uint) *AhoyInverter {
	return &AhoyInverter{
		client:     client,
		inverterId: inverterId,
	}
}

func (inv *AhoyInverter) IsAvailable(ctx context.Context) (bool, error) {
	avail, err := inv.client.IsAvailable(ctx, inv.inverterId)
	if err != nil {
		return false, classify(domain.DEVICE_INVERTER, "status", err)
	}
	return avail, nil
}

func (inv *AhoyInverter) SetLimit(ctx context.Context, watts uint) error {
	// a rejected or undelivered command is a communication failure
	if err := inv.client.SetLimit(ctx, inv.inverterId, watts); err != nil {
		return domain.NewCommunicationError(domain.DEVICE_INVERTER, "set_limit", err)
	}
	return nil
}

// ensure interface compliance
var _ port.Inverter = (*AhoyInverter)(nil)
