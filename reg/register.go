// Package reg implements the bit-exact register codec for the ADE791x
// family: the register address table, per-register access predicates, the
// configuration/status/EMI/sync-snap bit layouts, and the burst-read frame
// decoder. It has no notion of SPI or GPIO; callers in package adc own the
// wire transactions and hand this package raw bytes.
package reg

import "fmt"

// Register identifies one of the device's addressable registers. It is a
// closed, named variant rather than a bare address so that the read/write
// access predicates can't be bypassed by passing an arbitrary byte.
type Register uint8

const (
	Iwv Register = iota
	V1wv
	V2wv
	AdcCrc
	CtrlCrc
	CntSnapshot
	Config
	Status0
	Lock
	SyncSnap
	Counter0
	Counter1
	EmiCtrl
	Status1
	Tempos
)

func (r Register) String() string {
	switch r {
	case Iwv:
		return "IWV"
	case V1wv:
		return "V1WV"
	case V2wv:
		return "V2WV"
	case AdcCrc:
		return "ADC_CRC"
	case CtrlCrc:
		return "CTRL_CRC"
	case CntSnapshot:
		return "CNT_SNAPSHOT"
	case Config:
		return "CONFIG"
	case Status0:
		return "STATUS0"
	case Lock:
		return "LOCK"
	case SyncSnap:
		return "SYNC_SNAP"
	case Counter0:
		return "COUNTER0"
	case Counter1:
		return "COUNTER1"
	case EmiCtrl:
		return "EMI_CTRL"
	case Status1:
		return "STATUS1"
	case Tempos:
		return "TEMPOS"
	default:
		return fmt.Sprintf("Register(%d)", uint8(r))
	}
}

// Addr returns the register's SPI address, as used in the command byte.
func (r Register) Addr() uint8 {
	switch r {
	case Iwv:
		return 0x00
	case V1wv:
		return 0x01
	case V2wv:
		return 0x02
	case AdcCrc:
		return 0x04
	case CtrlCrc:
		return 0x05
	case CntSnapshot:
		return 0x07
	case Config:
		return 0x08
	case Status0:
		return 0x09
	case Lock:
		return 0x0A
	case SyncSnap:
		return 0x0B
	case Counter0:
		return 0x0C
	case Counter1:
		return 0x0D
	case EmiCtrl:
		return 0x0E
	case Status1:
		return 0x0F
	case Tempos:
		return 0x18
	default:
		panic(fmt.Sprintf("reg: unknown register %d", uint8(r)))
	}
}

// IsReadOnly reports whether the register cannot be written.
func (r Register) IsReadOnly() bool {
	switch r {
	case Config, Lock, SyncSnap, Counter0, Counter1, EmiCtrl:
		return false
	default:
		return true
	}
}

// IsWriteOnly reports whether the register cannot be read.
func (r Register) IsWriteOnly() bool {
	return r == Lock || r == SyncSnap
}

// SPI operation codes, OR'ed with (address << 3) to build the command byte.
const (
	OpRead  uint8 = 0x04
	OpWrite uint8 = 0x00
)

// CommandByte builds the command byte for a register transaction.
func CommandByte(r Register, op uint8) byte {
	return byte(r.Addr()<<3) | byte(op)
}

// Lock register payloads.
const (
	LockEnable  uint8 = 0xCA
	LockDisable uint8 = 0x9C
)
