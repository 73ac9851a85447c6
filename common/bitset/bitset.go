package bitset

import (
	"fmt"
	"math/bits"
)

// MaxBits specifies the capacity of the bitset.
const MaxBits = 32

// Tiny32 implements a constant-length 32-bit bitset.
//
// The data plane uses it for per-packet header validity tracking and for
// gateway result bitmaps, so the zero value must be ready to use and the
// packed word must be cheap to export.
type Tiny32 struct {
	word uint32
}

// FromWord builds a bitset from an already packed word.
func FromWord(word uint32) Tiny32 {
	return Tiny32{word: word}
}

// Word returns the packed representation of the bitset.
func (m *Tiny32) Word() uint32 {
	return m.word
}

// Count returns the number of bits set in the bitset.
func (m *Tiny32) Count() uint {
	return uint(bits.OnesCount32(m.word))
}

// Insert inserts the given index into the bitset.
func (m *Tiny32) Insert(idx uint32) {
	if idx >= MaxBits {
		panic(fmt.Sprintf("index %d is too big: must be less than %d", idx, MaxBits))
	}

	m.word |= 1 << idx
}

// Remove removes the given index from the bitset.
func (m *Tiny32) Remove(idx uint32) {
	if idx >= MaxBits {
		panic(fmt.Sprintf("index %d is too big: must be less than %d", idx, MaxBits))
	}

	m.word &^= 1 << idx
}

// Test reports whether the given index is present in the bitset.
func (m *Tiny32) Test(idx uint32) bool {
	if idx >= MaxBits {
		return false
	}

	return m.word&(1<<idx) != 0
}

// Reset clears all bits.
func (m *Tiny32) Reset() {
	m.word = 0
}

// Traverse traverses the bitset and calls the given function for each bit
// set.
//
// Iteration is performed from the least significant bit to the most
// significant one.
func (m *Tiny32) Traverse(fn func(uint32) bool) {
	word := m.word
	for word != 0 {
		idx := uint32(bits.TrailingZeros32(word))
		if !fn(idx) {
			return
		}

		word &= word - 1
	}
}

// AsSlice returns the bitset as a slice of indices, where each index is a
// position of the bit set.
func (m *Tiny32) AsSlice() []uint32 {
	out := make([]uint32, 0, m.Count())

	m.Traverse(func(idx uint32) bool {
		out = append(out, idx)
		return true
	})

	return out
}
