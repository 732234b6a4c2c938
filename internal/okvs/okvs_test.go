package okvs

import (
	"crypto/rand"
	"errors"
	"fmt"
	mrand "math/rand"
	"sync"
	"testing"
)

func TestKeyValueLittleEndian(t *testing.T) {
	k := KeyFromUint64(0x0102030405060708)
	if k[0] != 0x08 || k[7] != 0x01 {
		t.Fatalf("key bytes %v are not little-endian", k)
	}
	if k.Uint64() != 0x0102030405060708 {
		t.Fatal("key does not round-trip")
	}

	a, b := ValueFromUint64(0b1100), ValueFromUint64(0b1010)
	if got := a.Xor(b).Uint64(); got != 0b0110 {
		t.Fatalf("Xor = %b, want 110", got)
	}
	if !a.Xor(a).IsZero() {
		t.Fatal("v ⊕ v should be zero")
	}
}

func TestEncodingBinary(t *testing.T) {
	enc := Encoding{ValueFromUint64(1), ValueFromUint64(1 << 63)}
	data, err := enc.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 2*ValueSize {
		t.Fatalf("marshalled %d bytes, want %d", len(data), 2*ValueSize)
	}

	back, err := UnmarshalEncoding(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(back) != 2 || back[0] != enc[0] || back[1] != enc[1] {
		t.Fatalf("got %v, want %v", back, enc)
	}

	if _, err := UnmarshalEncoding(data[:9]); err == nil {
		t.Fatal("a ragged encoding should be rejected")
	}
}

func TestParseStrategy(t *testing.T) {
	for _, s := range []string{"banded", "polynomial"} {
		if got, err := ParseStrategy(s); err != nil || string(got) != s {
			t.Fatalf("ParseStrategy(%q) = %q, %v", s, got, err)
		}
	}
	if _, err := ParseStrategy("cuckoo"); err == nil {
		t.Fatal("unknown strategy should be rejected")
	}
}

func TestNew(t *testing.T) {
	o, err := New(StrategyBanded, 10, DefaultParams())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := o.(*Banded); !ok || o.Capacity() != 10 {
		t.Fatalf("New(banded) returned %T with capacity %d", o, o.Capacity())
	}

	o, err = New(StrategyPolynomial, 3, DefaultParams())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := o.(*Polynomial); !ok || o.Capacity() != 3 {
		t.Fatalf("New(polynomial) returned %T with capacity %d", o, o.Capacity())
	}

	if _, err := New("cuckoo", 3, DefaultParams()); err == nil {
		t.Fatal("unknown strategy should be rejected")
	}
}

// Both strategies must honour the same contract.
func TestContract(t *testing.T) {
	pairs := []Pair{
		{Key: KeyFromUint64(1), Value: ValueFromUint64(100)},
		{Key: KeyFromUint64(2), Value: ValueFromUint64(200)},
		{Key: KeyFromUint64(1 << 50), Value: ValueFromUint64(^uint64(0))},
	}

	for _, strategy := range []Strategy{StrategyBanded, StrategyPolynomial} {
		t.Run(string(strategy), func(t *testing.T) {
			var (
				o   OKVS
				enc Encoding
			)
			if strategy == StrategyBanded {
				o, enc = encodeWithRetry(t, pairs, DefaultParams())
			} else {
				o, _ = New(strategy, len(pairs), DefaultParams())
				var err error
				if enc, err = o.Encode(pairs); err != nil {
					t.Fatal(err)
				}
			}

			for _, p := range pairs {
				if got := o.Decode(enc, p.Key); got != p.Value {
					t.Fatalf("Decode(%d) = %d, want %d", p.Key.Uint64(), got.Uint64(), p.Value.Uint64())
				}
			}

			tooMany := append(append([]Pair(nil), pairs...), Pair{Key: KeyFromUint64(3)})
			if _, err := o.Encode(tooMany); !errors.Is(err, ErrInputTooLarge) {
				t.Fatalf("expected ErrInputTooLarge, got %v", err)
			}
		})
	}
}

func TestDecodeDeterministicConcurrent(t *testing.T) {
	rng := mrand.New(mrand.NewSource(7))
	pairs := randomPairs(rng, 40)

	keys := make([]Key, 0, 2*len(pairs))
	for _, p := range pairs {
		keys = append(keys, p.Key)
	}
	for i := 0; i < len(pairs); i++ {
		keys = append(keys, KeyFromUint64(rng.Uint64()))
	}

	for _, strategy := range []Strategy{StrategyBanded, StrategyPolynomial} {
		t.Run(string(strategy), func(t *testing.T) {
			var (
				o   OKVS
				enc Encoding
			)
			if strategy == StrategyBanded {
				params := DefaultParams()
				params.Rand = rand.Reader
				o, enc = encodeWithRetry(t, pairs, params)
			} else {
				var err error
				if o, err = New(strategy, len(pairs), DefaultParams()); err != nil {
					t.Fatal(err)
				}
				if enc, err = o.Encode(pairs); err != nil {
					t.Fatal(err)
				}
			}

			want := make([]Value, len(keys))
			for i, k := range keys {
				want[i] = o.Decode(enc, k)
			}
			for i, p := range pairs {
				if want[i] != p.Value {
					t.Fatalf("Decode(%d) = %d, want %d", p.Key.Uint64(), want[i].Uint64(), p.Value.Uint64())
				}
			}

			const readers = 8
			errs := make(chan error, readers)
			var wg sync.WaitGroup
			for r := 0; r < readers; r++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for round := 0; round < 5; round++ {
						for i, k := range keys {
							if got := o.Decode(enc, k); got != want[i] {
								errs <- fmt.Errorf("round %d: Decode(%d) = %d, first call gave %d",
									round, k.Uint64(), got.Uint64(), want[i].Uint64())
								return
							}
						}
					}
				}()
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				t.Error(err)
			}
		})
	}
}
