package reg

// SyncSnap is the write-only register used to broadcast the sync and snap
// commands. Both bits self-clear one CLKIN cycle after the write.
type SyncSnap struct {
	Sync bool
	Snap bool
}

// Encode packs the SyncSnap into its wire byte.
func (s SyncSnap) Encode() uint8 {
	var b uint8
	if s.Sync {
		b |= 0x01
	}
	if s.Snap {
		b |= 0x02
	}
	return b
}
