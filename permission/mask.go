package permission

// MaxRoutes is the number of distinct paths a single table can hold.
const MaxRoutes = 64

// Mask is a set of route bits.
type Mask uint64

func (m Mask) Has(bit int) bool {
	if bit < 0 || bit >= MaxRoutes {
		return false
	}
	return m&(1<<bit) != 0
}

func (m *Mask) Set(bit int) {
	if bit < 0 || bit >= MaxRoutes {
		return
	}
	*m |= 1 << bit
}

func (m *Mask) Clear(bit int) {
	if bit < 0 || bit >= MaxRoutes {
		return
	}
	*m &^= 1 << bit
}

func (m Mask) Raw() uint64 {
	return uint64(m)
}
