package permission

// MaxBits is the mask width.
const MaxBits = 64

// Mask64 is a set of permission bits.
type Mask64 uint64

const rootMask Mask64 = 1 << (MaxBits - 1)

// Has reports whether bit is set. With rootReserved, a set root bit grants all.
func (m Mask64) Has(bit int, rootReserved bool) bool {
	if bit < 0 || bit >= MaxBits {
		return false
	}
	if rootReserved && m&rootMask != 0 {
		return true
	}
	return m&(1<<bit) != 0
}

func (m *Mask64) Set(bit int) {
	if bit < 0 || bit >= MaxBits {
		return
	}
	*m |= 1 << bit
}

func (m *Mask64) Clear(bit int) {
	if bit < 0 || bit >= MaxBits {
		return
	}
	*m &^= 1 << bit
}

func (m Mask64) Raw() uint64 {
	return uint64(m)
}
