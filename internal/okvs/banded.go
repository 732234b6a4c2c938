package okvs

import (
	"fmt"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// parallelRowThreshold is the pair count below which rows are derived inline.
const parallelRowThreshold = 4096

// BandedConfig fixes the matrix shape of a banded store. Encoder and decoder
// must use identical configurations.
type BandedConfig struct {
	Columns   int
	BandWidth int
}

// NewBandedConfig sizes a banded store for n pairs.
func NewBandedConfig(n int, params Params) BandedConfig {
	p := params.withDefaults()
	columns := n + int(math.Ceil(p.Epsilon*float64(n)))
	width := columns * 80 / 100
	if width < p.MinBandWidth {
		width = p.MinBandWidth
	}
	if width > p.MaxBandWidth {
		width = p.MaxBandWidth
	}
	// starts are drawn from [0, columns-width), which must not be empty
	if width >= columns {
		columns = width + 1
	}
	return BandedConfig{Columns: columns, BandWidth: width}
}

func (c BandedConfig) span() int {
	return c.Columns - c.BandWidth
}

// Banded is the random-band matrix OKVS (RB-OKVS).
type Banded struct {
	capacity int
	config   BandedConfig
	hasher   rowHasher
	params   Params
}

// NewBanded creates a banded store for up to capacity pairs.
func NewBanded(capacity int, params Params) (*Banded, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("okvs: capacity must be positive, got %d", capacity)
	}
	h, err := newRowHasher(params.Seed)
	if err != nil {
		return nil, err
	}
	p := params.withDefaults()
	if p.Workers <= 0 {
		p.Workers = runtime.GOMAXPROCS(0)
	}
	return &Banded{
		capacity: capacity,
		config:   NewBandedConfig(capacity, p),
		hasher:   h,
		params:   p,
	}, nil
}

// Capacity implements OKVS.
func (o *Banded) Capacity() int {
	return o.capacity
}

// Config returns the matrix shape.
func (o *Banded) Config() BandedConfig {
	return o.config
}

// row is one equation of the system: band · x[start:start+width] = value.
type row struct {
	index int
	start int
	band  *Band
	value Value
}

func (o *Banded) deriveRow(i int, p Pair) row {
	return row{
		index: i,
		start: o.hasher.start(p.Key, o.config.span()),
		band:  o.hasher.band(p.Key, uint(o.config.BandWidth)),
		value: p.Value,
	}
}

// deriveRows hashes every pair. Rows are independent of each other, so large
// inputs are split across workers.
func (o *Banded) deriveRows(pairs []Pair) ([]row, error) {
	rows := make([]row, len(pairs))
	if len(pairs) < parallelRowThreshold || o.params.Workers == 1 {
		for i, p := range pairs {
			rows[i] = o.deriveRow(i, p)
		}
		return rows, nil
	}

	chunk := (len(pairs) + o.params.Workers - 1) / o.params.Workers
	var g errgroup.Group
	g.SetLimit(o.params.Workers)
	for lo := 0; lo < len(pairs); lo += chunk {
		lo, hi := lo, min(lo+chunk, len(pairs))
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				rows[i] = o.deriveRow(i, pairs[i])
			}
			return nil
		})
	}
	return rows, g.Wait()
}

// Encode implements OKVS. It fails with a ZeroRowError when the hashed system
// is singular; callers may retry with another seed.
func (o *Banded) Encode(pairs []Pair) (Encoding, error) {
	if len(pairs) > o.capacity {
		return nil, fmt.Errorf("%w: %d pairs, capacity %d", ErrInputTooLarge, len(pairs), o.capacity)
	}

	rows, err := o.deriveRows(pairs)
	if err != nil {
		return nil, fmt.Errorf("failed to derive rows: %w", err)
	}
	rows = sortRowsByStart(rows, o.config.span()-1)

	return solveBanded(rows, o.config, o.params.Rand)
}

// Decode implements OKVS.
func (o *Banded) Decode(enc Encoding, key Key) Value {
	start := o.hasher.start(key, o.config.span())
	if start >= len(enc) {
		return Value{}
	}
	band := o.hasher.band(key, uint(o.config.BandWidth))
	end := min(start+o.config.BandWidth, len(enc))
	return band.InnerProduct(enc[start:end])
}
