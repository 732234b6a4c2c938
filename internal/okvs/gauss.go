package okvs

import (
	"fmt"
	"io"

	"github.com/bits-and-blooms/bitset"
)

const radixBits = 8

// sortRowsByStart is a stable LSD radix sort on row.start. maxStart bounds
// every start and decides how many digit passes run.
func sortRowsByStart(rows []row, maxStart int) []row {
	if len(rows) < 2 || maxStart <= 0 {
		return rows
	}
	buf := make([]row, len(rows))
	for shift := uint(0); shift < 64 && maxStart>>shift > 0; shift += radixBits {
		var count [1<<radixBits + 1]int
		for _, r := range rows {
			count[(r.start>>shift)&(1<<radixBits-1)+1]++
		}
		for d := 1; d < len(count); d++ {
			count[d] += count[d-1]
		}
		for _, r := range rows {
			d := (r.start >> shift) & (1<<radixBits - 1)
			buf[count[d]] = r
			count[d]++
		}
		rows, buf = buf, rows
	}
	return rows
}

// solveBanded runs the forward elimination and back substitution of
// Dietzfelbinger and Walzer on rows sorted by start. Rows are modified in
// place.
//
// Every set bit of a row lies in [start, start+width). Once rows are sorted,
// eliminating a pivot at column p can only touch the following rows whose
// start is at most p, so each step stays inside one band window.
func solveBanded(rows []row, cfg BandedConfig, rand io.Reader) (Encoding, error) {
	pivots := make([]int, len(rows))
	width := uint(cfg.BandWidth)

	for i := range rows {
		first := rows[i].band.TrailingZeros()
		if first == width {
			return nil, &ZeroRowError{Row: i}
		}
		pivot := rows[i].start + int(first)
		pivots[i] = pivot

		for k := i + 1; k < len(rows) && rows[k].start <= pivot; k++ {
			if !rows[k].band.Bit(uint(pivot - rows[k].start)) {
				continue
			}
			rows[k].band.XorShifted(rows[i].band, uint(rows[k].start-rows[i].start))
			rows[k].value = rows[k].value.Xor(rows[i].value)
		}
	}

	x := make(Encoding, cfg.Columns)
	if rand != nil {
		if err := fillFreeColumns(x, pivots, rand); err != nil {
			return nil, err
		}
	}

	// Each pivot slot is still zero when its row is reached, so it can stay
	// inside the inner product.
	for i := len(rows) - 1; i >= 0; i-- {
		r := rows[i]
		end := min(r.start+cfg.BandWidth, len(x))
		x[pivots[i]] = r.band.InnerProduct(x[r.start:end]).Xor(r.value)
	}
	return x, nil
}

// fillFreeColumns randomizes every column that is not a pivot.
func fillFreeColumns(x Encoding, pivots []int, rand io.Reader) error {
	used := bitset.New(uint(len(x)))
	for _, p := range pivots {
		used.Set(uint(p))
	}
	for c := range x {
		if used.Test(uint(c)) {
			continue
		}
		if _, err := io.ReadFull(rand, x[c][:]); err != nil {
			return fmt.Errorf("failed to fill free column %d: %w", c, err)
		}
	}
	return nil
}
