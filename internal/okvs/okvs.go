// Package okvs implements oblivious key-value stores: encodings of key/value
// pairs from which the value of any encoded key can be recovered on its own,
// while decoding a key that was never encoded yields an opaque value.
//
// Two strategies are provided. Banded is the random-band matrix construction
// (RB-OKVS) solved with a near-linear Gaussian elimination over GF(2).
// Polynomial interpolates the pairs over the BLS12-381 scalar field.
package okvs

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// KeySize is the width of a Key in bytes.
	KeySize = 8
	// ValueSize is the width of a Value, and of every Encoding block, in bytes.
	ValueSize = 8
)

var (
	// ErrDuplicateKey is returned when two pairs of one Encode call share a key.
	ErrDuplicateKey = errors.New("okvs: duplicate key")
	// ErrZeroRow is matched by ZeroRowError.
	ErrZeroRow = errors.New("okvs: zero row during elimination")
	// ErrInputTooLarge is returned when more pairs are given than the store was sized for.
	ErrInputTooLarge = errors.New("okvs: input exceeds capacity")
)

// ZeroRowError reports that elimination reached a row without a pivot bit.
// The failure depends on the hash outputs; retrying with a fresh seed or a
// larger epsilon usually succeeds.
type ZeroRowError struct {
	Row int
}

func (e *ZeroRowError) Error() string {
	return fmt.Sprintf("okvs: row %d has no pivot after elimination", e.Row)
}

// Is makes errors.Is(err, ErrZeroRow) hold for every ZeroRowError.
func (e *ZeroRowError) Is(target error) bool {
	return target == ErrZeroRow
}

// Key is a fixed-width little-endian key.
type Key [KeySize]byte

// KeyFromUint64 encodes v as a Key.
func KeyFromUint64(v uint64) Key {
	var k Key
	binary.LittleEndian.PutUint64(k[:], v)
	return k
}

// Uint64 returns the integer the key encodes.
func (k Key) Uint64() uint64 {
	return binary.LittleEndian.Uint64(k[:])
}

// Value is a fixed-width element of the XOR group.
type Value [ValueSize]byte

// ValueFromUint64 encodes v as a Value.
func ValueFromUint64(v uint64) Value {
	var val Value
	binary.LittleEndian.PutUint64(val[:], v)
	return val
}

// Uint64 returns the integer the value encodes.
func (v Value) Uint64() uint64 {
	return binary.LittleEndian.Uint64(v[:])
}

// Xor returns v ⊕ o.
func (v Value) Xor(o Value) Value {
	for i := range v {
		v[i] ^= o[i]
	}
	return v
}

// IsZero reports whether v is the group identity.
func (v Value) IsZero() bool {
	return v == Value{}
}

// Pair is a key and the value stored under it.
type Pair struct {
	Key   Key
	Value Value
}

// Encoding is the ordered block sequence produced by Encode. It carries no
// header: both parties must derive the same store configuration on their own.
type Encoding []Value

// MarshalBinary concatenates the blocks of the encoding.
func (e Encoding) MarshalBinary() ([]byte, error) {
	out := make([]byte, 0, len(e)*ValueSize)
	for _, v := range e {
		out = append(out, v[:]...)
	}
	return out, nil
}

// UnmarshalEncoding splits data into ValueSize blocks.
func UnmarshalEncoding(data []byte) (Encoding, error) {
	if len(data)%ValueSize != 0 {
		return nil, fmt.Errorf("okvs: encoding length %d is not a multiple of %d", len(data), ValueSize)
	}
	enc := make(Encoding, len(data)/ValueSize)
	for i := range enc {
		copy(enc[i][:], data[i*ValueSize:])
	}
	return enc, nil
}

// OKVS is the capability both strategies implement.
type OKVS interface {
	// Encode stores pairs into a fresh Encoding. Keys must be unique and at
	// most Capacity pairs may be given.
	Encode(pairs []Pair) (Encoding, error)

	// Decode returns the value stored under key. It never fails: for a key
	// that was not encoded the result is meaningless and must not be used as
	// a membership signal.
	Decode(enc Encoding, key Key) Value

	// Capacity is the pair count the store was sized for.
	Capacity() int
}

// Strategy names an OKVS construction.
type Strategy string

const (
	StrategyBanded     Strategy = "banded"
	StrategyPolynomial Strategy = "polynomial"
)

// ParseStrategy validates a strategy name.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyBanded, StrategyPolynomial:
		return Strategy(s), nil
	default:
		return "", fmt.Errorf("unknown okvs strategy %q (must be %q or %q)", s, StrategyBanded, StrategyPolynomial)
	}
}

// Params tunes store construction. The zero value of each field selects its default.
type Params struct {
	// Epsilon is the fractional column overhead of the banded strategy.
	Epsilon float64
	// MaxBandWidth caps the band width in bits.
	MaxBandWidth int
	// MinBandWidth is the smallest band width used for tiny stores.
	MinBandWidth int
	// Seed keys both row hashes (at most 64 bytes). Encoder and decoder must agree.
	Seed []byte
	// Rand, when set, fills the unconstrained encoding columns.
	Rand io.Reader
	// Workers bounds row derivation parallelism.
	Workers int
}

const (
	DefaultEpsilon      = 0.1
	DefaultMaxBandWidth = 128
	DefaultMinBandWidth = 8
)

// DefaultParams returns the parameters used when none are configured.
func DefaultParams() Params {
	return Params{
		Epsilon:      DefaultEpsilon,
		MaxBandWidth: DefaultMaxBandWidth,
		MinBandWidth: DefaultMinBandWidth,
	}
}

func (p Params) withDefaults() Params {
	if p.Epsilon <= 0 {
		p.Epsilon = DefaultEpsilon
	}
	if p.MaxBandWidth <= 0 {
		p.MaxBandWidth = DefaultMaxBandWidth
	}
	if p.MinBandWidth <= 0 {
		p.MinBandWidth = DefaultMinBandWidth
	}
	if p.MinBandWidth > p.MaxBandWidth {
		p.MinBandWidth = p.MaxBandWidth
	}
	return p
}

// New builds a store of the given strategy sized for capacity pairs.
func New(strategy Strategy, capacity int, params Params) (OKVS, error) {
	switch strategy {
	case StrategyBanded:
		return NewBanded(capacity, params)
	case StrategyPolynomial:
		return NewPolynomial(capacity)
	default:
		return nil, fmt.Errorf("unknown okvs strategy %q", strategy)
	}
}
