package okvs

import (
	"fmt"
	"math/big"

	"github.com/drand/kyber"
	"github.com/drand/kyber/group/mod"
)

// fieldOrder is the order r of the BLS12-381 scalar field.
var fieldOrder, _ = new(big.Int).SetString("73eda753299d7d483339d80809a1d80553bda402fffe5bfeffffffff00000001", 16)

var low64Mask = new(big.Int).SetUint64(^uint64(0))

// coefficientBlocks is the number of Encoding blocks one field element spans.
var coefficientBlocks = (newScalar(0).MarshalSize() + ValueSize - 1) / ValueSize

func newScalar(v uint64) kyber.Scalar {
	return mod.NewInt(new(big.Int).SetUint64(v), fieldOrder)
}

// low64 returns the least significant 64 bits of s.
func low64(s kyber.Scalar) uint64 {
	m, ok := s.(*mod.Int)
	if !ok {
		return 0
	}
	return new(big.Int).And(&m.V, low64Mask).Uint64()
}

// Polynomial stores pairs as the unique polynomial of degree n-1 through
// (key, value) over the BLS12-381 scalar field.
//
// Decoding a key that was not encoded returns P(key). That value is fixed by
// the encoded pairs rather than independently random, so this strategy offers
// a weaker obliviousness guarantee than Banded.
type Polynomial struct {
	capacity int
}

// NewPolynomial creates an interpolating store for up to capacity pairs.
func NewPolynomial(capacity int) (*Polynomial, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("okvs: capacity must be positive, got %d", capacity)
	}
	return &Polynomial{capacity: capacity}, nil
}

// Capacity implements OKVS.
func (o *Polynomial) Capacity() int {
	return o.capacity
}

// Encode implements OKVS using Lagrange interpolation. The basis polynomial
// Lᵢ is obtained by dividing M(x) = Π(x−xⱼ) by (x−xᵢ), which keeps the whole
// construction at O(n²) field operations.
func (o *Polynomial) Encode(pairs []Pair) (Encoding, error) {
	n := len(pairs)
	if n > o.capacity {
		return nil, fmt.Errorf("%w: %d pairs, capacity %d", ErrInputTooLarge, n, o.capacity)
	}
	if n == 0 {
		return Encoding{}, nil
	}

	xs := make([]kyber.Scalar, n)
	for i, p := range pairs {
		xs[i] = newScalar(p.Key.Uint64())
	}

	master := []kyber.Scalar{newScalar(1)}
	for _, x := range xs {
		master = mulLinear(master, x)
	}

	coeffs := make([]kyber.Scalar, n)
	for k := range coeffs {
		coeffs[k] = newScalar(0)
	}
	term := newScalar(0)
	for i, p := range pairs {
		basis := divLinear(master, xs[i])
		denom := evaluate(basis, xs[i])
		if denom.Equal(newScalar(0)) {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateKey, p.Key.Uint64())
		}
		scale := newScalar(0).Div(newScalar(p.Value.Uint64()), denom)
		for k, c := range basis {
			coeffs[k].Add(coeffs[k], term.Mul(scale, c))
		}
	}

	return marshalCoefficients(coeffs)
}

// Decode implements OKVS by evaluating the polynomial at key.
func (o *Polynomial) Decode(enc Encoding, key Key) Value {
	coeffs := unmarshalCoefficients(enc)
	y := evaluate(coeffs, newScalar(key.Uint64()))
	return ValueFromUint64(low64(y))
}

// mulLinear returns p(x)·(x−a). Coefficients are stored lowest degree first.
func mulLinear(p []kyber.Scalar, a kyber.Scalar) []kyber.Scalar {
	out := make([]kyber.Scalar, len(p)+1)
	for k := range out {
		out[k] = newScalar(0)
	}
	t := newScalar(0)
	for k, c := range p {
		out[k+1].Add(out[k+1], c)
		out[k].Sub(out[k], t.Mul(a, c))
	}
	return out
}

// divLinear returns m(x)/(x−a) by synthetic division, dropping the remainder.
func divLinear(m []kyber.Scalar, a kyber.Scalar) []kyber.Scalar {
	deg := len(m) - 1
	if deg < 1 {
		return []kyber.Scalar{}
	}
	q := make([]kyber.Scalar, deg)
	q[deg-1] = m[deg].Clone()
	for k := deg - 1; k >= 1; k-- {
		q[k-1] = newScalar(0).Mul(a, q[k])
		q[k-1].Add(q[k-1], m[k])
	}
	return q
}

// evaluate computes p(x) with Horner's rule.
func evaluate(p []kyber.Scalar, x kyber.Scalar) kyber.Scalar {
	acc := newScalar(0)
	for k := len(p) - 1; k >= 0; k-- {
		acc.Mul(acc, x)
		acc.Add(acc, p[k])
	}
	return acc
}

func marshalCoefficients(coeffs []kyber.Scalar) (Encoding, error) {
	enc := make(Encoding, 0, len(coeffs)*coefficientBlocks)
	buf := make([]byte, coefficientBlocks*ValueSize)
	for _, c := range coeffs {
		b, err := c.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("failed to marshal coefficient: %w", err)
		}
		// left-pad so every coefficient spans the same number of blocks
		clear(buf)
		copy(buf[len(buf)-len(b):], b)
		for i := 0; i < coefficientBlocks; i++ {
			var v Value
			copy(v[:], buf[i*ValueSize:])
			enc = append(enc, v)
		}
	}
	return enc, nil
}

// unmarshalCoefficients reverses marshalCoefficients. Trailing partial
// coefficients and out-of-range elements read as zero.
func unmarshalCoefficients(enc Encoding) []kyber.Scalar {
	size := newScalar(0).MarshalSize()
	coeffs := make([]kyber.Scalar, len(enc)/coefficientBlocks)
	buf := make([]byte, coefficientBlocks*ValueSize)
	for i := range coeffs {
		for j := 0; j < coefficientBlocks; j++ {
			copy(buf[j*ValueSize:], enc[i*coefficientBlocks+j][:])
		}
		c := newScalar(0)
		if err := c.UnmarshalBinary(buf[len(buf)-size:]); err != nil {
			c = newScalar(0)
		}
		coeffs[i] = c
	}
	return coeffs
}
