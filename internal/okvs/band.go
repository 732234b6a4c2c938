package okvs

import (
	"github.com/bits-and-blooms/bitset"
)

const wordBits = 64

// Band is a fixed-width GF(2) vector packed into 64-bit words. Bit i of a
// row's band stands for encoding column start+i. Bits at or above the width
// are always zero.
type Band struct {
	width uint
	bits  *bitset.BitSet
}

func wordsFor(width uint) uint {
	return (width + wordBits - 1) / wordBits
}

// newBand returns the all-zero band of the given width.
func newBand(width uint) *Band {
	return &Band{
		width: width,
		bits:  bitset.From(make([]uint64, wordsFor(width))),
	}
}

// bandFromWords takes ownership of words, clearing every bit past width.
func bandFromWords(width uint, words []uint64) *Band {
	n := wordsFor(width)
	if uint(len(words)) < n {
		words = append(words, make([]uint64, n-uint(len(words)))...)
	}
	words = words[:n]
	if rem := width % wordBits; rem != 0 {
		words[n-1] &= (uint64(1) << rem) - 1
	}
	return &Band{width: width, bits: bitset.From(words)}
}

// Width returns the number of bits in the band.
func (b *Band) Width() uint {
	return b.width
}

// Words exposes the packed limbs, least significant first.
func (b *Band) Words() []uint64 {
	return b.bits.Bytes()
}

// Bit reports whether bit i is set.
func (b *Band) Bit(i uint) bool {
	return i < b.width && b.bits.Test(i)
}

// Set sets bit i.
func (b *Band) Set(i uint) {
	if i < b.width {
		b.bits.Set(i)
	}
}

// IsZero reports whether no bit is set.
func (b *Band) IsZero() bool {
	return b.bits.None()
}

// TrailingZeros returns the index of the lowest set bit, or the width when
// the band is zero.
func (b *Band) TrailingZeros() uint {
	i, ok := b.bits.NextSet(0)
	if !ok || i >= b.width {
		return b.width
	}
	return i
}

// clone returns an independent copy.
func (b *Band) clone() *Band {
	return &Band{width: b.width, bits: b.bits.Clone()}
}

// equal reports whether both bands have the same width and bits.
func (b *Band) equal(o *Band) bool {
	return b.width == o.width && b.bits.Equal(o.bits)
}

// Xor sets b to b ⊕ o.
func (b *Band) Xor(o *Band) {
	b.bits.InPlaceSymmetricDifference(o.bits)
}

// and returns b ∧ o as a new band.
func (b *Band) and(o *Band) *Band {
	return &Band{width: b.width, bits: b.bits.Intersection(o.bits)}
}

// dot returns the GF(2) inner product of two bands.
func (b *Band) dot(o *Band) bool {
	return b.bits.IntersectionCardinality(o.bits)%2 == 1
}

// shiftRight returns b shifted toward bit zero by n positions.
func (b *Band) shiftRight(n uint) *Band {
	src := b.Words()
	out := make([]uint64, len(src))
	shiftRightInto(out, src, n)
	return &Band{width: b.width, bits: bitset.From(out)}
}

// XorShifted sets b to b ⊕ (o >> n) without allocating. It aligns a row
// starting n columns earlier onto b's columns.
func (b *Band) XorShifted(o *Band, n uint) {
	dst, src := b.Words(), o.Words()
	ws, bs := int(n/wordBits), n%wordBits
	for i := range dst {
		j := i + ws
		if j >= len(src) {
			break
		}
		w := src[j] >> bs
		if bs != 0 && j+1 < len(src) {
			w |= src[j+1] << (wordBits - bs)
		}
		dst[i] ^= w
	}
}

func shiftRightInto(dst, src []uint64, n uint) {
	ws, bs := int(n/wordBits), n%wordBits
	for i := range dst {
		j := i + ws
		if j >= len(src) {
			dst[i] = 0
			continue
		}
		w := src[j] >> bs
		if bs != 0 && j+1 < len(src) {
			w |= src[j+1] << (wordBits - bs)
		}
		dst[i] = w
	}
}

// InnerProduct XORs together xs[i] for every set bit i below len(xs).
func (b *Band) InnerProduct(xs []Value) Value {
	var acc Value
	limit := uint(len(xs))
	for i, ok := b.bits.NextSet(0); ok && i < limit; i, ok = b.bits.NextSet(i + 1) {
		acc = acc.Xor(xs[i])
	}
	return acc
}
