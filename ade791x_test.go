package ade791x

import (
	"testing"

	"github.com/grepitab/ade791x/adc"
	"github.com/grepitab/ade791x/conn/delay/delaytest"
	"github.com/grepitab/ade791x/conn/gpio/gpiotest"
	"github.com/grepitab/ade791x/conn/spi/spitest"
	"github.com/grepitab/ade791x/reg"
)

func cmd(r reg.Register, op uint8) byte { return reg.CommandByte(r, op) }

func TestFacadeInitUnwrapsSingleDeviceNoBroadcast(t *testing.T) {
	config := reg.Config{AdcFreq: reg.Freq8kHz}
	emi := reg.DefaultEmiCtrl

	bus := spitest.NewPlayback(
		spitest.IO{W: []byte{cmd(reg.Status0, reg.OpRead), 0}, R: []byte{0, 0}},
		spitest.IO{W: []byte{cmd(reg.Config, reg.OpWrite), config.Encode()}, R: []byte{0, 0}},
		spitest.IO{W: []byte{cmd(reg.Config, reg.OpRead), 0}, R: []byte{0, config.Encode()}},
		spitest.IO{W: []byte{cmd(reg.EmiCtrl, reg.OpWrite), emi.Encode()}, R: []byte{0, 0}},
		spitest.IO{W: []byte{cmd(reg.EmiCtrl, reg.OpRead), 0}, R: []byte{0, emi.Encode()}},
		// Dual: the aux offset default is read from Tempos.
		spitest.IO{W: []byte{cmd(reg.Tempos, reg.OpRead), 0}, R: []byte{0, 0x5E}},
		// N=1: Init's sync broadcast is skipped, only the lock remains.
		spitest.IO{W: []byte{cmd(reg.Lock, reg.OpWrite), reg.LockEnable}, R: []byte{0, 0}},
	)
	cs := &gpiotest.Pin{Name: "cs"}
	dev, err := NewADE7912(bus, cs)
	if err != nil {
		t.Fatalf("NewADE7912: %v", err)
	}

	dl := &delaytest.Fake{}
	if err := dev.Init(dl, config, adc.DefaultCalibration(), emi); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if !bus.Exhausted() {
		t.Fatalf("bus trace not exhausted: %+v", bus.Done)
	}
}

func TestFacadeGetMeasurementUnwrapsTripleAuxVoltage(t *testing.T) {
	// Triple variant, temp_en=false: the aux channel is a second voltage,
	// not temperature. Since temp_en is false and the chip isn't Dual,
	// Init materializes both aux defaults without reading Tempos.
	config := reg.Config{AdcFreq: reg.Freq8kHz}
	emi := reg.DefaultEmiCtrl
	resp := []byte{0x04, 0x05, 0xEC, 0xDF, 0x06, 0x17, 0x1C, 0x37, 0xBE, 0x97}

	bus := spitest.NewPlayback(
		spitest.IO{W: []byte{cmd(reg.Status0, reg.OpRead), 0}, R: []byte{0, 0}},
		spitest.IO{W: []byte{cmd(reg.Config, reg.OpWrite), config.Encode()}, R: []byte{0, 0}},
		spitest.IO{W: []byte{cmd(reg.Config, reg.OpRead), 0}, R: []byte{0, config.Encode()}},
		spitest.IO{W: []byte{cmd(reg.EmiCtrl, reg.OpWrite), emi.Encode()}, R: []byte{0, 0}},
		spitest.IO{W: []byte{cmd(reg.EmiCtrl, reg.OpRead), 0}, R: []byte{0, emi.Encode()}},
		spitest.IO{W: []byte{cmd(reg.Lock, reg.OpWrite), reg.LockEnable}, R: []byte{0, 0}},
		spitest.IO{W: append([]byte{cmd(reg.Iwv, reg.OpRead)}, make([]byte, 9)...), R: resp},
	)
	cs := &gpiotest.Pin{Name: "cs"}
	dev, err := NewADE7913(bus, cs)
	if err != nil {
		t.Fatalf("NewADE7913: %v", err)
	}

	dl := &delaytest.Fake{}
	if err := dev.Init(dl, config, adc.DefaultCalibration(), emi); err != nil {
		t.Fatalf("Init: %v", err)
	}

	m, err := dev.GetMeasurement()
	if err != nil {
		t.Fatalf("GetMeasurement: %v", err)
	}
	if m.Aux.Voltage == nil {
		t.Fatal("expected a voltage aux reading for a Triple device with temp_en=false")
	}
	if m.Aux.Temperature != nil {
		t.Error("did not expect a temperature reading")
	}
	if !bus.Exhausted() {
		t.Fatalf("bus trace not exhausted: %+v", bus.Done)
	}
}
