package okvs

import (
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/blake2b"
)

// Domain separation tags keep the two row hashes independent under one seed.
const (
	startDomain byte = 0x01
	bandDomain  byte = 0x02
)

// rowHasher derives the start offset and band of a key. Both derivations are
// keyed blake2b instances so a new seed yields an unrelated matrix.
type rowHasher struct {
	seed []byte
}

func newRowHasher(seed []byte) (rowHasher, error) {
	if len(seed) > blake2b.Size {
		return rowHasher{}, fmt.Errorf("okvs: seed is %d bytes, at most %d allowed", len(seed), blake2b.Size)
	}
	return rowHasher{seed: append([]byte(nil), seed...)}, nil
}

// start maps key uniformly-ish into [0, span).
func (h rowHasher) start(key Key, span int) int {
	if span <= 1 {
		return 0
	}
	d, err := blake2b.New(8, h.seed)
	if err != nil {
		// seed length is checked by newRowHasher
		panic(err)
	}
	d.Write([]byte{startDomain})
	d.Write(key[:])
	return int(binary.LittleEndian.Uint64(d.Sum(nil)) % uint64(span))
}

// band derives a width-bit vector whose lowest bit is always set.
func (h rowHasher) band(key Key, width uint) *Band {
	nbytes := (width + 7) / 8
	buf := make([]byte, wordsFor(width)*8)
	if nbytes > 0 {
		x, err := blake2b.NewXOF(uint32(nbytes), h.seed)
		if err != nil {
			panic(err)
		}
		x.Write([]byte{bandDomain})
		x.Write(key[:])
		if _, err := io.ReadFull(x, buf[:nbytes]); err != nil {
			panic(err)
		}
	}
	words := make([]uint64, wordsFor(width))
	for i := range words {
		words[i] = binary.LittleEndian.Uint64(buf[i*8:])
	}
	b := bandFromWords(width, words)
	b.Set(0)
	return b
}
