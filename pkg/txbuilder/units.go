package txbuilder

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/Layr-Labs/eigenx-multisig-go/pkg/errors"
)

var maxBaseUnits = decimal.NewFromInt(math.MaxInt64)

// ToBaseUnits converts a display amount such as "1.5" to integer base units
// for a denom with the given exponent ("1.5", 6 -> 1500000). Fractions finer
// than one base unit are rejected rather than rounded.
func ToBaseUnits(display string, exponent int32) (int64, error) {
	d, err := decimal.NewFromString(display)
	if err != nil {
		return 0, errors.ErrInvalidInput.Newf("invalid amount %q", display)
	}
	if d.IsNegative() {
		return 0, errors.ErrNegativeAmount.Newf("amount %s", display)
	}

	base := d.Shift(exponent)
	if !base.Equal(base.Truncate(0)) {
		return 0, errors.ErrInvalidInput.Newf("amount %s has more than %d decimal places", display, exponent)
	}
	if base.GreaterThan(maxBaseUnits) {
		return 0, errors.ErrInvalidInput.Newf("amount %s is too large", display)
	}
	return base.IntPart(), nil
}

// FromBaseUnits renders base units as a display amount
func FromBaseUnits(amount int64, exponent int32) string {
	return decimal.New(amount, -exponent).String()
}
