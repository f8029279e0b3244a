package poly

import (
	"errors"
	"testing"

	"github.com/grepitab/ade791x/adc"
	"github.com/grepitab/ade791x/conn/delay/delaytest"
	"github.com/grepitab/ade791x/conn/gpio"
	"github.com/grepitab/ade791x/conn/gpio/gpiotest"
	"github.com/grepitab/ade791x/conn/spi/spitest"
	"github.com/grepitab/ade791x/reg"
)

func cmd(r reg.Register, op uint8) byte { return reg.CommandByte(r, op) }

func threeDualDevices() ([]*adc.Dev, []*gpiotest.Pin) {
	pins := []*gpiotest.Pin{{Name: "cs0"}, {Name: "cs1"}, {Name: "cs2"}}
	devices := make([]*adc.Dev, len(pins))
	for i, p := range pins {
		devices[i] = adc.New(p, adc.Dual)
	}
	return devices, pins
}

func TestCoordinatorInitTimesOutOnFirstDeviceWithoutTouchingOthers(t *testing.T) {
	devices, _ := threeDualDevices()

	ops := make([]spitest.IO, 5)
	for i := range ops {
		ops[i] = spitest.IO{W: []byte{cmd(reg.Status0, reg.OpRead), 0}, R: []byte{0, 0x01}}
	}
	bus := spitest.NewPlayback(ops...)
	c, err := New(bus, devices)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	config := make([]reg.Config, 3)
	cal := make([]adc.Calibration, 3)
	emi := make([]reg.EmiCtrl, 3)
	for i := range config {
		cal[i] = adc.DefaultCalibration()
		emi[i] = reg.DefaultEmiCtrl
	}

	dl := &delaytest.Fake{}
	err = c.Init(dl, config, cal, emi)
	if !errors.Is(err, adc.ErrResetTimeout) {
		t.Fatalf("Init error = %v, want ErrResetTimeout", err)
	}
	if !bus.Exhausted() {
		t.Fatalf("expected exactly the first device's 5 Status0 polls and nothing else, trace: %+v", bus.Done)
	}
}

func TestCoordinatorInitBroadcastsSyncThenLock(t *testing.T) {
	devices, pins := threeDualDevices()
	config := []reg.Config{{AdcFreq: reg.Freq8kHz}, {AdcFreq: reg.Freq8kHz}, {AdcFreq: reg.Freq8kHz}}
	cal := []adc.Calibration{adc.DefaultCalibration(), adc.DefaultCalibration(), adc.DefaultCalibration()}
	emi := []reg.EmiCtrl{reg.DefaultEmiCtrl, reg.DefaultEmiCtrl, reg.DefaultEmiCtrl}

	var ops []spitest.IO
	for i := range devices {
		ops = append(ops,
			spitest.IO{W: []byte{cmd(reg.Status0, reg.OpRead), 0}, R: []byte{0, 0}},
			spitest.IO{W: []byte{cmd(reg.Config, reg.OpWrite), config[i].Encode()}, R: []byte{0, 0}},
			spitest.IO{W: []byte{cmd(reg.Config, reg.OpRead), 0}, R: []byte{0, config[i].Encode()}},
			spitest.IO{W: []byte{cmd(reg.EmiCtrl, reg.OpWrite), emi[i].Encode()}, R: []byte{0, 0}},
			spitest.IO{W: []byte{cmd(reg.EmiCtrl, reg.OpRead), 0}, R: []byte{0, emi[i].Encode()}},
			spitest.IO{W: []byte{cmd(reg.Tempos, reg.OpRead), 0}, R: []byte{0, 0}}, // Dual: aux offset from Tempos
		)
	}
	// sync, issued only on the primary (index 0)
	ops = append(ops, spitest.IO{W: []byte{cmd(reg.SyncSnap, reg.OpWrite), reg.SyncSnap{Sync: true}.Encode()}, R: []byte{0, 0}})
	// lock, issued only on the primary
	ops = append(ops, spitest.IO{W: []byte{cmd(reg.Lock, reg.OpWrite), reg.LockEnable}, R: []byte{0, 0}})

	bus := spitest.NewPlayback(ops...)
	c, err := New(bus, devices)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	dl := &delaytest.Fake{}
	if err := c.Init(dl, config, cal, emi); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if !bus.Exhausted() {
		t.Fatalf("bus trace not exhausted: %+v", bus.Done)
	}
	// Each non-primary device's own per-register Init transactions toggle
	// its CS 12 times (6 register ops), and the two broadcasts (sync, then
	// lock) add one low/high bracket each: the trailing 4 levels must be
	// [Low High Low High].
	for i, p := range pins[1:] {
		if len(p.Levels) != 16 {
			t.Fatalf("pin %d (non-primary) levels = %v, want 16 entries", i+1, p.Levels)
		}
		tail := p.Levels[len(p.Levels)-4:]
		want := []gpio.Level{gpio.Low, gpio.High, gpio.Low, gpio.High}
		for j := range want {
			if tail[j] != want[j] {
				t.Errorf("pin %d (non-primary) trailing broadcast levels = %v, want %v", i+1, tail, want)
				break
			}
		}
	}
}

func TestCoordinatorAdjustSyncUsesDrSourceAsReferenceNotPrimary(t *testing.T) {
	devices, _ := threeDualDevices()
	// Device 1 (not the broadcast primary, index 0) is the DREADY source:
	// it's the only one with clkout_en cleared.
	config := []reg.Config{
		{ClkoutEn: true, AdcFreq: reg.Freq8kHz},
		{ClkoutEn: false, AdcFreq: reg.Freq8kHz},
		{ClkoutEn: true, AdcFreq: reg.Freq8kHz},
	}
	cal := []adc.Calibration{adc.DefaultCalibration(), adc.DefaultCalibration(), adc.DefaultCalibration()}
	emi := []reg.EmiCtrl{reg.DefaultEmiCtrl, reg.DefaultEmiCtrl, reg.DefaultEmiCtrl}

	var ops []spitest.IO
	for i := range devices {
		ops = append(ops,
			spitest.IO{W: []byte{cmd(reg.Status0, reg.OpRead), 0}, R: []byte{0, 0}},
			spitest.IO{W: []byte{cmd(reg.Config, reg.OpWrite), config[i].Encode()}, R: []byte{0, 0}},
			spitest.IO{W: []byte{cmd(reg.Config, reg.OpRead), 0}, R: []byte{0, config[i].Encode()}},
			spitest.IO{W: []byte{cmd(reg.EmiCtrl, reg.OpWrite), emi[i].Encode()}, R: []byte{0, 0}},
			spitest.IO{W: []byte{cmd(reg.EmiCtrl, reg.OpRead), 0}, R: []byte{0, emi[i].Encode()}},
			spitest.IO{W: []byte{cmd(reg.Tempos, reg.OpRead), 0}, R: []byte{0, 0}}, // Dual: aux offset from Tempos
		)
	}
	ops = append(ops,
		spitest.IO{W: []byte{cmd(reg.SyncSnap, reg.OpWrite), reg.SyncSnap{Sync: true}.Encode()}, R: []byte{0, 0}},
		spitest.IO{W: []byte{cmd(reg.Lock, reg.OpWrite), reg.LockEnable}, R: []byte{0, 0}},
	)
	// AdjustSync: unlock, snap, then the reference device (index 1) read
	// first, followed by every other device in order.
	ops = append(ops,
		spitest.IO{W: []byte{cmd(reg.Lock, reg.OpWrite), reg.LockDisable}, R: []byte{0, 0}},
		spitest.IO{W: []byte{cmd(reg.SyncSnap, reg.OpWrite), reg.SyncSnap{Snap: true}.Encode()}, R: []byte{0, 0}},
		spitest.IO{W: []byte{cmd(reg.CntSnapshot, reg.OpRead), 0, 0}, R: []byte{0, 0x00, 100}}, // ref (device 1)
		spitest.IO{W: []byte{cmd(reg.CntSnapshot, reg.OpRead), 0, 0}, R: []byte{0, 0x00, 100}}, // device 0
		spitest.IO{W: []byte{cmd(reg.CntSnapshot, reg.OpRead), 0, 0}, R: []byte{0, 0x00, 100}}, // device 2
		spitest.IO{W: []byte{cmd(reg.Lock, reg.OpWrite), reg.LockEnable}, R: []byte{0, 0}},
	)

	bus := spitest.NewPlayback(ops...)
	c, err := New(bus, devices)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	dl := &delaytest.Fake{}
	if err := c.Init(dl, config, cal, emi); err != nil {
		t.Fatalf("Init: %v", err)
	}

	drift, err := c.AdjustSync()
	if err != nil {
		t.Fatalf("AdjustSync: %v", err)
	}
	if drift[1] != 0 {
		t.Errorf("drift[ref=1] = %d, want 0 (the reference device never gets adjusted)", drift[1])
	}
	if !bus.Exhausted() {
		t.Fatalf("bus trace not exhausted: %+v", bus.Done)
	}
}
