package device

import (
	"errors"
	"fmt"
	"math"

	"github.com/berfenger/zeroexport/internal/core/domain"
	"github.com/berfenger/zeroexport/pkg/ahoy"
	"github.com/berfenger/zeroexport/pkg/tasmota"
)

// classify turns client errors into the domain taxonomy: a reply that could
// not be interpreted is a parse error, anything else is a communication error.
func classify(device, op string, err error) error {
	if err == nil {
		return nil
	}
	var tasmotaField *tasmota.FieldError
	var ahoyField *ahoy.FieldError
	switch {
	case errors.As(err, &tasmotaField):
		return domain.NewParseError(device, tasmotaField.Field, err)
	case errors.As(err, &ahoyField):
		return domain.NewParseError(device, ahoyField.Field, err)
	default:
		return domain.NewCommunicationError(device, op, err)
	}
}

// truncWatts truncates a reading toward zero. Readings that do not fit a
// sane power value are parse errors, never a limit input.
func truncWatts(device, field string, watts float64) (int, error) {
	if math.IsNaN(watts) || math.IsInf(watts, 0) || math.Abs(watts) > math.MaxInt32 {
		return 0, domain.NewParseError(device, field, fmt.Errorf("value out of range: %v", watts))
	}
	return int(math.Trunc(watts)), nil
}
