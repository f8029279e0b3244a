package adc

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// Sentinel errors for the fixed set of failure kinds the driver core can
// raise. Every sequence aborts on the first error; none are retried
// internally except the reset poll in Dev.WaitReset.
var (
	ErrResetTimeout            = errors.New("adc: reset_on still set after 5 polls")
	ErrReadOnlyRegister        = errors.New("adc: write attempted on a read-only register")
	ErrWriteOnlyRegister       = errors.New("adc: read attempted on a write-only register")
	ErrBurstReadNotPermitted   = errors.New("adc: burst_read start register not permitted")
	ErrRegisterContentMismatch = errors.New("adc: checked write readback did not match")
)

// SpiError wraps an error returned by the SPI transfer collaborator,
// preserving it as the Cause for callers that want to inspect the
// underlying transport failure.
func SpiError(err error) error {
	return pkgerrors.Wrap(err, "adc: spi transfer failed")
}

// PinError wraps an error returned by the chip-select pin collaborator.
func PinError(err error) error {
	return pkgerrors.Wrap(err, "adc: chip-select pin failed")
}

// regError reports a register-access-mode violation, naming the offending
// register for diagnostics.
func regError(sentinel error, reg fmt.Stringer) error {
	return fmt.Errorf("%w: %s", sentinel, reg)
}
