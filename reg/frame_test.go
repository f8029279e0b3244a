package reg

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDecodeFrameSampleFromBurstRead(t *testing.T) {
	// Response bytes from a 10-byte burst read starting at Iwv (command
	// echo + 9 payload bytes): 04 05 EC DF 06 17 1C 37 BE 97.
	resp := []byte{0x04, 0x05, 0xEC, 0xDF, 0x06, 0x17, 0x1C, 0x37, 0xBE, 0x97}
	frame, ok := PlaceBurstResponse(Iwv, resp)
	if !ok {
		t.Fatal("Iwv must be a permitted burst start")
	}
	got := DecodeFrame(frame)
	want := Frame{
		Iwv:         388319,
		V1wv:        399132,
		V2wv:        3653271,
		AdcCrc:      0,
		Status0:     Status0{},
		CntSnapshot: 0,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("DecodeFrame mismatch (-want +got):\n%s", diff)
	}
}

func TestPlaceBurstResponseRejectsDisallowedStart(t *testing.T) {
	for _, r := range []Register{CtrlCrc, Lock, SyncSnap, Counter0, Counter1, EmiCtrl, Status1, Tempos} {
		if _, ok := PlaceBurstResponse(r, []byte{0, 0}); ok {
			t.Errorf("%v should not be a permitted burst start", r)
		}
	}
}

func TestPlaceBurstResponseZeroFillsBelowStart(t *testing.T) {
	resp := []byte{0xFF, 0xAA, 0xBB}
	frame, ok := PlaceBurstResponse(V1wv, resp)
	if !ok {
		t.Fatal("V1wv must be permitted")
	}
	for i := 0; i < 4; i++ {
		if frame[i] != 0 {
			t.Errorf("frame[%d] = 0x%02x, want 0 (below start offset)", i, frame[i])
		}
	}
	if frame[4] != 0xAA || frame[5] != 0xBB {
		t.Errorf("frame[4:6] = % x, want AA BB", frame[4:6])
	}
}
