package scan

import "fmt"

// EncodeBits expands value into n bits, most significant first.
func EncodeBits(value uint32, n int) []bool {
	bits := make([]bool, n)
	for i := 0; i < n; i++ {
		bits[i] = value&(1<<(n-1-i)) != 0
	}
	return bits
}

// DecodeBits is the inverse of EncodeBits.
func DecodeBits(bits []bool) uint32 {
	var v uint32
	for _, b := range bits {
		v <<= 1
		if b {
			v |= 1
		}
	}
	return v
}

// ValidateUserkey checks that a value fits the userkey strip.
func (l Layout) ValidateUserkey(v uint32) error {
	if v > l.MaxUserkey() {
		return fmt.Errorf("userkey %d exceeds %d bits", v, l.UserkeyBits)
	}
	return nil
}
