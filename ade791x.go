// Package ade791x is the root façade for a single ADE791x device: a thin
// wrapper around an N=1 polyphase coordinator that forwards init, reset,
// powerdown, wakeup and measurement readout and unwraps the coordinator's
// one-element result arrays. Multi-device installations should use package
// poly directly for the broadcast and drift-correction protocol.
package ade791x

import (
	"github.com/grepitab/ade791x/adc"
	"github.com/grepitab/ade791x/conn/delay"
	"github.com/grepitab/ade791x/conn/gpio"
	"github.com/grepitab/ade791x/conn/spi"
	"github.com/grepitab/ade791x/poly"
	"github.com/grepitab/ade791x/reg"
)

// Re-exported so callers that only need the façade don't have to import
// package adc for these common types.
type (
	Chip              = adc.Chip
	Calibration       = adc.Calibration
	CalibrationOffset = adc.CalibrationOffset
	CalibrationGain   = adc.CalibrationGain
	RawMeasurement    = adc.RawMeasurement
	Measurement       = adc.Measurement
	MeasurementAux    = adc.MeasurementAux
)

const (
	// ADE7912 is the Dual (2-channel) variant.
	ADE7912 = adc.Dual
	// ADE7913 is the Triple (3-channel) variant.
	ADE7913 = adc.Triple
)

// Dev is a single ADE7912 or ADE7913 on its own CS line, sharing an SPI
// bus that — from this façade's point of view — it doesn't share with
// anyone.
type Dev struct {
	coord *poly.Coordinator
}

// New constructs a façade around chip on cs. opts are forwarded to the
// underlying adc.Dev (see adc.WithLogger).
func New(bus spi.Conn, cs gpio.PinOut, chip Chip, opts ...adc.Option) (*Dev, error) {
	coord, err := poly.New(bus, []*adc.Dev{adc.New(cs, chip, opts...)})
	if err != nil {
		return nil, err
	}
	return &Dev{coord: coord}, nil
}

// NewADE7912 constructs a façade around the Dual variant.
func NewADE7912(bus spi.Conn, cs gpio.PinOut, opts ...adc.Option) (*Dev, error) {
	return New(bus, cs, ADE7912, opts...)
}

// NewADE7913 constructs a façade around the Triple variant.
func NewADE7913(bus spi.Conn, cs gpio.PinOut, opts ...adc.Option) (*Dev, error) {
	return New(bus, cs, ADE7913, opts...)
}

// Init configures and locks the device.
func (d *Dev) Init(dl delay.Source, config reg.Config, calibration Calibration, emi reg.EmiCtrl) error {
	return d.coord.Init(dl, []reg.Config{config}, []Calibration{calibration}, []reg.EmiCtrl{emi})
}

// HardReset issues the 8-zero-byte hard-reset burst. Init is required
// again afterward.
func (d *Dev) HardReset() error { return d.coord.HardReset() }

// SoftReset unlocks and writes Config with only swrst set. Init is
// required again afterward.
func (d *Dev) SoftReset() error { return d.coord.SoftReset() }

// Powerdown turns off the dc-dc converter and modulators.
func (d *Dev) Powerdown() error { return d.coord.Powerdown() }

// Wakeup turns the dc-dc converter and modulators back on.
func (d *Dev) Wakeup() error { return d.coord.Wakeup() }

// GetRawMeasurement returns the uncalibrated samples.
func (d *Dev) GetRawMeasurement() (RawMeasurement, error) {
	ms, err := d.coord.GetRawMeasurement()
	if err != nil {
		return RawMeasurement{}, err
	}
	return ms[0], nil
}

// GetMeasurement returns the calibrated, engineering-unit reading.
func (d *Dev) GetMeasurement() (Measurement, error) {
	ms, err := d.coord.GetMeasurement()
	if err != nil {
		return Measurement{}, err
	}
	return ms[0], nil
}
