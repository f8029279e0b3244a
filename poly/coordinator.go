// Package poly implements the polyphase coordinator: an array of N
// single-device engines sharing one SPI bus, driven through the chip
// family's broadcast-listen protocol. It is grounded on src/poly.rs in the
// original driver core, generalized from a const-generic array to a Go
// slice, and on periph.io's bitbang.SPI CS low/defer-high scoping for the
// broadcast guard.
package poly

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/grepitab/ade791x/adc"
	"github.com/grepitab/ade791x/conn/delay"
	"github.com/grepitab/ade791x/conn/spi"
	"github.com/grepitab/ade791x/reg"
)

// Option configures a Coordinator at construction time.
type Option func(*Coordinator)

// WithLogger attaches a structured logger the coordinator uses to trace
// each broadcast sync/snap/lock/unlock command and drift-adjustment
// results.
func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) { c.log = l }
}

// Coordinator owns a shared SPI bus and the array of devices on it. The
// device at index 0 is always the broadcast primary, regardless of which
// device (if any) is generating DREADY.
type Coordinator struct {
	bus     spi.Conn
	devices []*adc.Dev
	log     *zap.Logger
}

// New builds a Coordinator over devices sharing bus. devices must be
// non-empty; devices[0] is the broadcast primary.
func New(bus spi.Conn, devices []*adc.Dev, opts ...Option) (*Coordinator, error) {
	if len(devices) == 0 {
		return nil, fmt.Errorf("poly: at least one device is required")
	}
	c := &Coordinator{bus: bus, devices: devices, log: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// N reports how many devices the coordinator manages.
func (c *Coordinator) N() int { return len(c.devices) }

// withBroadcast drives CS low on every non-primary device, runs fn (which
// is expected to perform the primary's own CS-scoped transaction), then
// raises CS on every non-primary device regardless of fn's outcome.
func (c *Coordinator) withBroadcast(fn func() error) error {
	for _, d := range c.devices[1:] {
		if err := d.BroadcastListen(); err != nil {
			return err
		}
	}
	err := fn()
	for _, d := range c.devices[1:] {
		if endErr := d.BroadcastEnd(); err == nil {
			err = endErr
		}
	}
	return err
}

// broadcastOp runs op on the primary device under withBroadcast, the
// pattern shared by sync/snap/lock/unlock.
func (c *Coordinator) broadcastOp(name string, op func(*adc.Dev) error) error {
	c.log.Debug("broadcast", zap.String("op", name), zap.Int("n", c.N()))
	return c.withBroadcast(func() error { return op(c.devices[0]) })
}

// Init initializes every device with its own configuration, calibration
// and EMI control (no broadcast), then — if there's more than one device —
// broadcasts a sync, and finally broadcasts a lock. config, calibration
// and emi must each have length N().
func (c *Coordinator) Init(dl delay.Source, config []reg.Config, calibration []adc.Calibration, emi []reg.EmiCtrl) error {
	if len(config) != c.N() || len(calibration) != c.N() || len(emi) != c.N() {
		return fmt.Errorf("poly: config/calibration/emi must each have %d entries", c.N())
	}
	for i, d := range c.devices {
		if err := d.Init(c.bus, dl, config[i], calibration[i], emi[i]); err != nil {
			return err
		}
	}
	if c.N() > 1 {
		if err := c.broadcastOp("sync", func(d *adc.Dev) error { return d.Sync(c.bus) }); err != nil {
			return err
		}
	}
	return c.broadcastOp("lock", func(d *adc.Dev) error { return d.Lock(c.bus) })
}

// HardReset broadcasts a hard reset: every non-primary CS is held low
// while the primary issues the 8-zero-byte reset burst. Every device
// needs Init again afterward.
func (c *Coordinator) HardReset() error {
	return c.withBroadcast(func() error { return c.devices[0].HardReset(c.bus) })
}

// SoftReset unlocks (broadcast), then soft-resets every device
// individually. It does not re-lock; every device needs Init again
// afterward.
func (c *Coordinator) SoftReset() error {
	if err := c.broadcastOp("unlock", func(d *adc.Dev) error { return d.Unlock(c.bus) }); err != nil {
		return err
	}
	for _, d := range c.devices {
		if err := d.SoftReset(c.bus); err != nil {
			return err
		}
	}
	return nil
}

// Powerdown unlocks (broadcast), powers down every device individually,
// then re-locks (broadcast).
func (c *Coordinator) Powerdown() error {
	if err := c.broadcastOp("unlock", func(d *adc.Dev) error { return d.Unlock(c.bus) }); err != nil {
		return err
	}
	for _, d := range c.devices {
		if err := d.Powerdown(c.bus); err != nil {
			return err
		}
	}
	return c.broadcastOp("lock", func(d *adc.Dev) error { return d.Lock(c.bus) })
}

// Wakeup unlocks (broadcast), wakes every device individually, then
// re-locks (broadcast).
func (c *Coordinator) Wakeup() error {
	if err := c.broadcastOp("unlock", func(d *adc.Dev) error { return d.Unlock(c.bus) }); err != nil {
		return err
	}
	for _, d := range c.devices {
		if err := d.Wakeup(c.bus); err != nil {
			return err
		}
	}
	return c.broadcastOp("lock", func(d *adc.Dev) error { return d.Lock(c.bus) })
}

// referenceIndex returns the index of the first device generating DREADY
// (clkout_en=false), or 0 if none does. This is distinct from the
// broadcast primary, which is always index 0.
func (c *Coordinator) referenceIndex() int {
	for i, d := range c.devices {
		if d.IsDrSource() {
			return i
		}
	}
	return 0
}

// AdjustSync unlocks (broadcast), broadcasts a snap, reads the reference
// device's counter snapshot, then adjusts every other device's counter
// preload against it, and re-locks (broadcast). It returns the per-device
// drift, with drift[ref] always 0.
func (c *Coordinator) AdjustSync() ([]int16, error) {
	if err := c.broadcastOp("unlock", func(d *adc.Dev) error { return d.Unlock(c.bus) }); err != nil {
		return nil, err
	}
	if err := c.broadcastOp("snap", func(d *adc.Dev) error { return d.Snap(c.bus) }); err != nil {
		return nil, err
	}

	ref := c.referenceIndex()
	cref, err := c.devices[ref].GetCntSnapshot(c.bus)
	if err != nil {
		return nil, err
	}

	drift := make([]int16, c.N())
	for i, d := range c.devices {
		if i == ref {
			continue
		}
		dr, err := d.AdjustSync(c.bus, cref)
		if err != nil {
			return nil, err
		}
		drift[i] = dr
		c.log.Debug("adjust_sync", zap.Int("device", i), zap.Int16("drift", dr))
	}

	if err := c.broadcastOp("lock", func(d *adc.Dev) error { return d.Lock(c.bus) }); err != nil {
		return nil, err
	}
	return drift, nil
}

// GetRawMeasurement reads every device's raw samples, in order.
func (c *Coordinator) GetRawMeasurement() ([]adc.RawMeasurement, error) {
	out := make([]adc.RawMeasurement, c.N())
	for i, d := range c.devices {
		m, err := d.GetRawMeasurement(c.bus)
		if err != nil {
			return nil, err
		}
		out[i] = m
	}
	return out, nil
}

// GetMeasurement reads every device's calibrated measurement, in order.
func (c *Coordinator) GetMeasurement() ([]adc.Measurement, error) {
	out := make([]adc.Measurement, c.N())
	for i, d := range c.devices {
		m, err := d.GetMeasurement(c.bus)
		if err != nil {
			return nil, err
		}
		out[i] = m
	}
	return out, nil
}
