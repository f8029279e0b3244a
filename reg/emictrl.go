package reg

// EmiCtrl enables or disables each of the 8 PWM slots of the isolated
// dc-to-dc converter, used to spread its switching harmonics and reduce
// EMI emissions.
type EmiCtrl [8]bool

// DefaultEmiCtrl is the device's power-on EMI control value: all slots
// enabled.
var DefaultEmiCtrl = DecodeEmiCtrl(0xFF)

// DecodeEmiCtrl unpacks an EmiCtrl from its wire byte, slot i at bit i.
func DecodeEmiCtrl(b uint8) EmiCtrl {
	var e EmiCtrl
	for i := range e {
		e[i] = b&(1<<uint(i)) != 0
	}
	return e
}

// Encode packs the EmiCtrl into its wire byte.
func (e EmiCtrl) Encode() uint8 {
	var b uint8
	for i, on := range e {
		if on {
			b |= 1 << uint(i)
		}
	}
	return b
}
