package reg

import "testing"

func TestConfigRoundTrip(t *testing.T) {
	for b := 0; b < 256; b++ {
		c := DecodeConfig(uint8(b))
		got := c.Encode()
		want := uint8(b) &^ 0x02 // bit 1 is reserved/unused
		if got != want {
			t.Fatalf("Config round-trip for 0x%02x: got 0x%02x want 0x%02x", b, got, want)
		}
	}
}

func TestEmiCtrlRoundTrip(t *testing.T) {
	for b := 0; b < 256; b++ {
		e := DecodeEmiCtrl(uint8(b))
		if got := e.Encode(); got != uint8(b) {
			t.Fatalf("EmiCtrl round-trip for 0x%02x: got 0x%02x", b, got)
		}
	}
}

func TestAdcFreqInvalidBitsMapTo1kHz(t *testing.T) {
	if adcFreqFromBits(0x03) != Freq1kHz {
		t.Fatal("0b11 must map to Freq1kHz")
	}
	if adcFreqFromBits(0xFF) != Freq1kHz {
		t.Fatal("out-of-range bits must map to Freq1kHz")
	}
}

func TestModulusTable(t *testing.T) {
	cases := map[AdcFreq]uint16{
		Freq8kHz: 511,
		Freq4kHz: 1023,
		Freq2kHz: 2047,
		Freq1kHz: 4095,
	}
	for freq, want := range cases {
		if got := freq.Modulus(); got != want {
			t.Errorf("Modulus(%v) = %d, want %d", freq, got, want)
		}
	}
}

func TestRegisterAddrTable(t *testing.T) {
	cases := map[Register]uint8{
		Iwv: 0x00, V1wv: 0x01, V2wv: 0x02, AdcCrc: 0x04, CtrlCrc: 0x05,
		CntSnapshot: 0x07, Config: 0x08, Status0: 0x09, Lock: 0x0A,
		SyncSnap: 0x0B, Counter0: 0x0C, Counter1: 0x0D, EmiCtrl: 0x0E,
		Status1: 0x0F, Tempos: 0x18,
	}
	for r, want := range cases {
		if got := r.Addr(); got != want {
			t.Errorf("%v.Addr() = 0x%02x, want 0x%02x", r, got, want)
		}
	}
}

func TestRegisterAccessPredicates(t *testing.T) {
	readOnly := []Register{Iwv, V1wv, V2wv, AdcCrc, CtrlCrc, CntSnapshot, Status0, Status1, Tempos}
	readWrite := []Register{Config, Counter0, Counter1, EmiCtrl}
	writeOnly := []Register{Lock, SyncSnap}
	for _, r := range readOnly {
		if !r.IsReadOnly() || r.IsWriteOnly() {
			t.Errorf("%v expected read-only", r)
		}
	}
	for _, r := range readWrite {
		if r.IsReadOnly() || r.IsWriteOnly() {
			t.Errorf("%v expected read-write", r)
		}
	}
	for _, r := range writeOnly {
		if r.IsReadOnly() {
			t.Errorf("%v expected not read-only", r)
		}
		if !r.IsWriteOnly() {
			t.Errorf("%v expected write-only", r)
		}
	}
}

func TestCommandByte(t *testing.T) {
	if got := CommandByte(Status0, OpRead); got != 0x4C {
		t.Errorf("CommandByte(Status0, read) = 0x%02x, want 0x4C", got)
	}
	if got := CommandByte(Config, OpWrite); got != 0x40 {
		t.Errorf("CommandByte(Config, write) = 0x%02x, want 0x40", got)
	}
	if got := CommandByte(Lock, OpWrite); got != 0x50 {
		t.Errorf("CommandByte(Lock, write) = 0x%02x, want 0x50", got)
	}
}
