// Package adc implements the single-device engine for one ADE791x chip:
// register-level SPI transactions, the init/reset/lock state machine, the
// sync/snap/adjust-sync drift primitives, and calibrated measurement
// readout. It is grounded on periph.io's combined spi.Conn + gpio.PinOut
// device pattern (see devices/lepton), generalized from one hardwired chip
// to the ADE791x's two variants and from an automatically-managed CS line
// to one the caller (package poly) can also drive directly for broadcast.
package adc

import (
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/grepitab/ade791x/conn/delay"
	"github.com/grepitab/ade791x/conn/gpio"
	"github.com/grepitab/ade791x/conn/spi"
	"github.com/grepitab/ade791x/reg"
)

// RawMeasurement holds the signed 24-bit samples straight off the ADC,
// sign-extended into the 32-bit carrier, with no calibration applied.
type RawMeasurement struct {
	Iwv  int32
	V1wv int32
	V2wv int32
}

// MeasurementAux is the auxiliary channel's converted value: either a
// second voltage measurement (Triple, temp_en=false) or a die temperature
// in degrees Celsius (Dual, or temp_en=true).
type MeasurementAux struct {
	Temperature *float32 // °C, non-nil when the aux channel is temperature
	Voltage     *float32 // V, non-nil when the aux channel is voltage
}

// Measurement holds the fully calibrated, engineering-unit reading from
// one device.
type Measurement struct {
	Current float32 // A
	Voltage float32 // V
	Aux     MeasurementAux
}

// Option configures a Dev at construction time.
type Option func(*Dev)

// WithLogger attaches a structured logger the Dev uses to trace its
// lock/unlock writes. A Dev built without WithLogger logs nothing.
func WithLogger(l *zap.Logger) Option {
	return func(d *Dev) { d.log = l }
}

// Dev is a single ADE791x device on a shared SPI bus. It owns its own
// chip-select pin but not the bus itself, so several Devs (coordinated by
// package poly) can share one SPI peripheral.
type Dev struct {
	cs          gpio.PinOut
	chip        Chip
	config      reg.Config
	calibration Calibration
	log         *zap.Logger
}

// New constructs a Dev with an empty configuration and default calibration
// (aux fields unset). Until Init succeeds the Dev has no applied
// configuration and its aux calibration falls back to offset 0, gain 1.
func New(cs gpio.PinOut, chip Chip, opts ...Option) *Dev {
	d := &Dev{cs: cs, chip: chip, calibration: DefaultCalibration(), log: zap.NewNop()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// IsDrSource reports whether this device is generating the DREADY signal
// (as opposed to CLKOUT), making it the synchronization reference.
func (d *Dev) IsDrSource() bool { return !d.config.ClkoutEn }

// Init persists config and calibration, waits for any in-progress reset to
// clear, applies config and EMI control with checked writes, and
// materializes any unset auxiliary calibration default. It does not lock
// the device; package poly's coordinator issues the broadcast lock once
// every device in the array has been initialized.
func (d *Dev) Init(s spi.Conn, dl delay.Source, config reg.Config, calibration Calibration, emi reg.EmiCtrl) error {
	d.config = config
	d.calibration = calibration
	if err := d.WaitReset(s, dl); err != nil {
		return err
	}
	if err := d.writeRegChecked(s, reg.Config, config.Encode()); err != nil {
		return err
	}
	if err := d.writeRegChecked(s, reg.EmiCtrl, emi.Encode()); err != nil {
		return err
	}
	if d.calibration.Offset.Aux == nil {
		if d.config.TempEn || d.chip == Dual {
			b, err := d.readReg(s, reg.Tempos)
			if err != nil {
				return err
			}
			d.calibration.Offset.Aux = f32p(float32(int8(b[1])))
		} else {
			d.calibration.Offset.Aux = f32p(0)
		}
	}
	if d.calibration.Gain.Aux == nil {
		switch {
		case d.config.TempEn || d.chip == Dual:
			if d.config.Bw {
				d.calibration.Gain.Aux = f32p(auxGainBw2kHz)
			} else {
				d.calibration.Gain.Aux = f32p(auxGainBw3_3kHz)
			}
		default:
			d.calibration.Gain.Aux = f32p(1)
		}
	}
	return nil
}

// HardReset pulls CS low and transfers the 8-zero-byte hard-reset burst,
// then raises CS, even if the transfer itself failed. After a hard reset
// the device needs Init again.
func (d *Dev) HardReset(s spi.Conn) (err error) {
	if err = d.csLow(); err != nil {
		return err
	}
	defer func() {
		if errHigh := d.csHigh(); err == nil {
			err = errHigh
		}
	}()
	buf := make([]byte, 8)
	if txErr := s.Tx(buf, buf); txErr != nil {
		err = SpiError(txErr)
	}
	return err
}

// SoftReset writes Config with only swrst set, ignoring the cached
// configuration. After a soft reset the device needs Init again.
func (d *Dev) SoftReset(s spi.Conn) error {
	sw := reg.Config{Swrst: true}
	return d.writeReg(s, reg.Config, sw.Encode())
}

// WaitReset polls Status0 up to 5 times, 100ms apart, until reset_on
// clears, failing with ErrResetTimeout if it is still set after the 5th
// attempt (~500ms total). The 100ms cadence comes from
// backoff.ConstantBackOff; sleeping itself goes through the injected delay
// collaborator rather than the backoff library's own clock, so callers can
// substitute a fake delay source in tests without a real half-second
// stall.
func (d *Dev) WaitReset(s spi.Conn, dl delay.Source) error {
	interval := backoff.NewConstantBackOff(100 * time.Millisecond)
	for attempt := 0; attempt < 5; attempt++ {
		b, err := d.readReg(s, reg.Status0)
		if err != nil {
			return err
		}
		if !reg.DecodeStatus0(b[1]).ResetOn {
			return nil
		}
		dl.Sleep(interval.NextBackOff())
	}
	return ErrResetTimeout
}

// Powerdown clones the cached config with pwrdwn_en set and clkout_en
// cleared and writes it unchecked, turning off the dc-dc converter and
// modulators while leaving other registers at their applied values.
func (d *Dev) Powerdown(s spi.Conn) error {
	c := d.config
	c.PwrdwnEn = true
	c.ClkoutEn = false
	return d.writeReg(s, reg.Config, c.Encode())
}

// Wakeup re-issues the cached configuration unchecked, turning the dc-dc
// converter and modulators back on.
func (d *Dev) Wakeup(s spi.Conn) error {
	return d.writeReg(s, reg.Config, d.config.Encode())
}

// BroadcastListen drives this device's CS low without issuing any SPI
// byte, subscribing it to whatever the bus primary writes next.
func (d *Dev) BroadcastListen() error { return d.csLow() }

// BroadcastEnd raises this device's CS, unsubscribing it from the bus.
func (d *Dev) BroadcastEnd() error { return d.csHigh() }

// Sync writes SyncSnap with only the sync bit set.
func (d *Dev) Sync(s spi.Conn) error {
	return d.writeReg(s, reg.SyncSnap, reg.SyncSnap{Sync: true}.Encode())
}

// Snap writes SyncSnap with only the snap bit set.
func (d *Dev) Snap(s spi.Conn) error {
	return d.writeReg(s, reg.SyncSnap, reg.SyncSnap{Snap: true}.Encode())
}

// Lock writes the Lock register's enable code, protecting the
// configuration registers from further writes.
func (d *Dev) Lock(s spi.Conn) error {
	d.log.Debug("lock", zap.Uint8("chip", uint8(d.chip)))
	return d.writeReg(s, reg.Lock, reg.LockEnable)
}

// Unlock writes the Lock register's disable code.
func (d *Dev) Unlock(s spi.Conn) error {
	d.log.Debug("unlock", zap.Uint8("chip", uint8(d.chip)))
	return d.writeReg(s, reg.Lock, reg.LockDisable)
}

// GetCntSnapshot reads the counter-snapshot register directly: a 2-byte
// burst starting at CntSnapshot, the minimal transfer that reaches the
// snapshot bytes. A burst starting at Iwv would need at least 14 bytes to
// reach CntSnapshot's offset in the canonical frame; a 9-byte burst from
// Iwv (just far enough for the sample registers) never gets there.
func (d *Dev) GetCntSnapshot(s spi.Conn) (uint16, error) {
	buf, err := d.burstRead(s, reg.CntSnapshot, 2)
	if err != nil {
		return 0, err
	}
	return reg.DecodeFrame(buf).CntSnapshot, nil
}

// AdjustSync reads this device's counter snapshot, computes its signed
// drift from cref, and — if the magnitude exceeds 1 — programs Counter0/
// Counter1 with the corrective preload so the device's sample generation
// realigns with the reference. It always returns the measured drift, even
// when no correction was needed.
func (d *Dev) AdjustSync(s spi.Conn, cref uint16) (int16, error) {
	c0 := d.config.AdcFreq.Modulus()
	c, err := d.GetCntSnapshot(s)
	if err != nil {
		return 0, err
	}
	drift := int16(c) - int16(cref)
	if drift > 1 || drift < -1 {
		var adj uint16
		if c > cref {
			adj = cref + c0 - c
		} else {
			adj = cref - c
		}
		lo := byte(adj)
		hi := byte(adj >> 8)
		if err := d.writeReg(s, reg.Counter0, lo); err != nil {
			return 0, err
		}
		if err := d.writeReg(s, reg.Counter1, hi); err != nil {
			return 0, err
		}
	}
	return drift, nil
}

// GetRawMeasurement burst-reads the 9 current/voltage sample bytes
// starting at Iwv and decodes them, with no calibration applied.
func (d *Dev) GetRawMeasurement(s spi.Conn) (RawMeasurement, error) {
	buf, err := d.burstRead(s, reg.Iwv, 9)
	if err != nil {
		return RawMeasurement{}, err
	}
	f := reg.DecodeFrame(buf)
	return RawMeasurement{Iwv: f.Iwv, V1wv: f.V1wv, V2wv: f.V2wv}, nil
}

// GetMeasurement reads the raw samples and converts them to engineering
// units, applying the device's calibration offsets and gains.
func (d *Dev) GetMeasurement(s spi.Conn) (Measurement, error) {
	raw, err := d.GetRawMeasurement(s)
	if err != nil {
		return Measurement{}, err
	}
	// Aux defaults to 0/1 until Init materializes a device-appropriate
	// value; GetMeasurement works (with the identity aux calibration)
	// even if called before Init.
	auxOffset := float32(0)
	if d.calibration.Offset.Aux != nil {
		auxOffset = *d.calibration.Offset.Aux
	}
	auxGain := float32(1)
	if d.calibration.Gain.Aux != nil {
		auxGain = *d.calibration.Gain.Aux
	}

	m := Measurement{
		Current: mapADC(raw.Iwv, -49.27, 49.27),
		Voltage: mapADC(raw.V1wv, -788, 788),
	}
	if d.chip == Dual || d.config.TempEn {
		temp := auxGain*float32(raw.V2wv) + auxGainBw3_3kHz*auxOffset*2048 - 306.47
		m.Aux = MeasurementAux{Temperature: f32p(temp)}
	} else {
		v := (mapADC(raw.V2wv, -788, 788) - auxOffset) * auxGain
		m.Aux = MeasurementAux{Voltage: f32p(v)}
	}
	m.Current = (m.Current - d.calibration.Offset.Current) * d.calibration.Gain.Current
	m.Voltage = (m.Voltage - d.calibration.Offset.Voltage) * d.calibration.Gain.Voltage
	return m, nil
}

// mapADC linearly maps a signed 24-bit ADC code onto [outMin, outMax].
func mapADC(x int32, outMin, outMax float32) float32 {
	return (float32(x)+8388608)*(outMax-outMin)/16777215 + outMin
}

// burstRead performs a burst read starting at start for n response
// bytes and places the response into the canonical 15-byte frame. start is
// validated before any bus activity, so an unpermitted starting register
// never asserts CS.
func (d *Dev) burstRead(s spi.Conn, start reg.Register, n int) (frame [reg.FrameLen]byte, err error) {
	if !reg.IsBurstStart(start) {
		return frame, regError(ErrBurstReadNotPermitted, start)
	}
	buf := make([]byte, n+1)
	buf[0] = reg.CommandByte(start, reg.OpRead)
	if err = d.csLow(); err != nil {
		return frame, err
	}
	defer func() {
		if errHigh := d.csHigh(); err == nil {
			err = errHigh
		}
	}()
	if txErr := s.Tx(buf, buf); txErr != nil {
		err = SpiError(txErr)
		return frame, err
	}
	frame, _ = reg.PlaceBurstResponse(start, buf)
	return frame, err
}

// readReg issues a single-register read transaction. CS is always released,
// even if the transfer itself failed.
func (d *Dev) readReg(s spi.Conn, r reg.Register) (buf [2]byte, err error) {
	if r.IsWriteOnly() {
		return buf, regError(ErrWriteOnlyRegister, r)
	}
	buf[0] = reg.CommandByte(r, reg.OpRead)
	if err = d.csLow(); err != nil {
		return buf, err
	}
	defer func() {
		if errHigh := d.csHigh(); err == nil {
			err = errHigh
		}
	}()
	if txErr := s.Tx(buf[:], buf[:]); txErr != nil {
		err = SpiError(txErr)
	}
	return buf, err
}

// writeReg issues a single-register write transaction. CS is always
// released, even if the transfer itself failed.
func (d *Dev) writeReg(s spi.Conn, r reg.Register, content byte) (err error) {
	if r.IsReadOnly() {
		return regError(ErrReadOnlyRegister, r)
	}
	buf := [2]byte{reg.CommandByte(r, reg.OpWrite), content}
	if err = d.csLow(); err != nil {
		return err
	}
	defer func() {
		if errHigh := d.csHigh(); err == nil {
			err = errHigh
		}
	}()
	if txErr := s.Tx(buf[:], buf[:]); txErr != nil {
		err = SpiError(txErr)
	}
	return err
}

// writeRegChecked writes content to r, then reads it back and fails with
// ErrRegisterContentMismatch if the device didn't retain it.
func (d *Dev) writeRegChecked(s spi.Conn, r reg.Register, content byte) error {
	if err := d.writeReg(s, r, content); err != nil {
		return err
	}
	got, err := d.readReg(s, r)
	if err != nil {
		return err
	}
	if got[1] != content {
		return ErrRegisterContentMismatch
	}
	return nil
}

func (d *Dev) csLow() error {
	if err := d.cs.Out(gpio.Low); err != nil {
		return PinError(err)
	}
	return nil
}

func (d *Dev) csHigh() error {
	if err := d.cs.Out(gpio.High); err != nil {
		return PinError(err)
	}
	return nil
}
