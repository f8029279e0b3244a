package reg

import "encoding/binary"

// FrameLen is the size of the canonical burst-read frame: the union of
// every field a burst read can touch, indexed by the fixed offsets below
// regardless of where an individual burst_read started.
const FrameLen = 15

// burst-read frame field offsets, per the datasheet's natural SPI layout.
// IWV, V1WV and V2WV windows overlap by one byte: decoders interpret the
// overlapping windows rather than move bytes.
const (
	offsetIwv         = 0
	offsetV1wv        = 3
	offsetV2wv        = 6
	offsetAdcCrc      = 10
	offsetStatus0     = 12
	offsetCntSnapshot = 13
)

// IsBurstStart reports whether start is one of the registers a burst read
// may begin at.
func IsBurstStart(start Register) bool {
	_, ok := startIndex(start)
	return ok
}

// startIndex returns the canonical frame offset burst_read bytes landed on
// for a given starting register.
func startIndex(start Register) (int, bool) {
	switch start {
	case Iwv:
		return 1, true
	case V1wv:
		return 4, true
	case V2wv:
		return 7, true
	case AdcCrc:
		return 10, true
	case Status0:
		return 12, true
	case CntSnapshot:
		return 13, true
	default:
		return 0, false
	}
}

// Frame is the decoded contents of a 15-byte canonical burst-read buffer.
type Frame struct {
	Iwv         int32
	V1wv        int32
	V2wv        int32
	AdcCrc      uint16
	Status0     Status0
	CntSnapshot uint16
}

// sext24 sign-extends the 24-bit big-endian sample in the 4-byte window
// b[0:4]: the sample occupies the low 24 bits (b[1:4]) and b[0] belongs to
// the preceding field, so shifting left by 8 drops b[0] and the arithmetic
// right shift by 8 restores the sign.
func sext24(b []byte) int32 {
	x := int32(binary.BigEndian.Uint32(b))
	return (x << 8) >> 8
}

// DecodeFrame interprets a canonical FrameLen-byte buffer. buf[0] is the
// command echo and is ignored.
func DecodeFrame(buf [FrameLen]byte) Frame {
	return Frame{
		Iwv:         sext24(buf[offsetIwv : offsetIwv+4]),
		V1wv:        sext24(buf[offsetV1wv : offsetV1wv+4]),
		V2wv:        sext24(buf[offsetV2wv : offsetV2wv+4]),
		AdcCrc:      binary.BigEndian.Uint16(buf[offsetAdcCrc : offsetAdcCrc+2]),
		Status0:     DecodeStatus0(buf[offsetStatus0]),
		CntSnapshot: binary.BigEndian.Uint16(buf[offsetCntSnapshot : offsetCntSnapshot+2]),
	}
}

// PlaceBurstResponse builds a canonical FrameLen-byte buffer out of the
// raw response to a burst_read(start, len) transaction: resp is the
// len+1-byte buffer the SPI transfer produced (command byte followed by
// len response bytes). The response bytes are copied into the canonical
// frame at the offset start maps to, and every byte below that offset is
// zero-filled, so the same DecodeFrame can interpret the result regardless
// of where the burst started.
//
// ok is false if start isn't one of the permitted burst_read starting
// registers.
func PlaceBurstResponse(start Register, resp []byte) (frame [FrameLen]byte, ok bool) {
	idx, ok := startIndex(start)
	if !ok {
		return frame, false
	}
	copy(frame[idx:], resp[1:])
	return frame, true
}
