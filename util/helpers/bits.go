package helpers

// GetBit reports whether bit i of b is set.
func GetBit(b uint8, i int) bool {
	return b&(1<<i) != 0
}

// SetBit sets or clears bit i of *b.
func SetBit(b *uint8, i int, v bool) {
	if v {
		*b |= 1 << i
	} else {
		*b &^= 1 << i
	}
}
