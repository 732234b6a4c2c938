// Package psi runs the three-step fuzzy private set intersection: the sender
// encodes one sub-protocol message per bin, the receiver answers per bin in a
// second encoding, and the sender turns the answers into matches.
package psi

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/hashicorp/go-hclog"

	"github.com/mundrapranay/fuzzy-psi/internal/binning"
	"github.com/mundrapranay/fuzzy-psi/internal/noise"
	"github.com/mundrapranay/fuzzy-psi/internal/okvs"
)

// Options carries the collaborators of a party. Zero fields get defaults.
type Options struct {
	// SubProtocol defaults to Insecure.
	SubProtocol SubProtocol
	// Logger defaults to a null logger.
	Logger hclog.Logger
	// Rand supplies padding and free-column randomness; defaults to crypto/rand.
	Rand io.Reader
}

func (o Options) withDefaults() Options {
	if o.SubProtocol == nil {
		o.SubProtocol = Insecure{}
	}
	if o.Logger == nil {
		o.Logger = hclog.NewNullLogger()
	}
	if o.Rand == nil {
		o.Rand = rand.Reader
	}
	return o
}

// party holds what sender and receiver share: a point set, its bins and the
// store parameters.
type party struct {
	config   Config
	strategy okvs.Strategy
	params   okvs.Params
	opts     Options
	logger   hclog.Logger

	points []uint64
	index  *binning.Index
	bins   []binning.Bin
}

func newParty(config Config, points []uint64, opts Options, name string) (*party, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	strategy, _ := okvs.ParseStrategy(config.Strategy)
	opts = opts.withDefaults()
	params, err := config.okvsParams(opts.Rand)
	if err != nil {
		return nil, err
	}

	return &party{
		config:   config,
		strategy: strategy,
		params:   params,
		opts:     opts,
		logger:   opts.Logger.Named(name),
		points:   append([]uint64(nil), points...),
		index:    binning.NewIndex(points, config.Delta),
		bins:     binning.CreateBins(points, config.Delta),
	}, nil
}

// pointFor returns the point that justifies emitting a message for bin.
func (p *party) pointFor(bin binning.Bin) (uint64, bool) {
	pts := p.index.Invert(bin)
	if len(pts) == 0 {
		return 0, false
	}
	if len(pts) > 1 {
		p.logger.Debug("several points share a bin, using the first", "bin", bin, "points", len(pts))
	}
	return pts[0], true
}

// paddingTarget is the pair count an encoding of real pairs is padded to.
func (p *party) paddingTarget(real, factor int) int {
	target := max(real*factor+1, p.config.MinEncodingSize)
	if p.config.PaddingNoiseLambda > 0 {
		target += noise.NewGeomDistribution(p.config.PaddingNoiseLambda).Slack(p.config.MaxPaddingNoise)
	}
	return target
}

// encode pads pairs with random ones up to the target and encodes them.
func (p *party) encode(ctx context.Context, pairs []okvs.Pair, factor int) (*Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	target := p.paddingTarget(len(pairs), factor)
	padded, err := pad(pairs, target, p.opts.Rand)
	if err != nil {
		return nil, err
	}

	store, err := okvs.New(p.strategy, target, p.params)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s okvs: %w", p.strategy, err)
	}
	enc, err := store.Encode(padded)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %d pairs: %w", len(padded), err)
	}

	p.logger.Debug("encoded okvs", "strategy", p.strategy, "real", len(pairs), "capacity", target, "blocks", len(enc))
	return &Message{Strategy: p.strategy, Capacity: target, Encoding: enc}, nil
}

// open rebuilds the peer's store configuration from a received message.
func (p *party) open(msg *Message) (okvs.OKVS, error) {
	if msg == nil {
		return nil, fmt.Errorf("nil message")
	}
	if msg.Strategy != p.strategy {
		return nil, fmt.Errorf("peer used strategy %q, expected %q", msg.Strategy, p.strategy)
	}
	store, err := okvs.New(msg.Strategy, msg.Capacity, p.params)
	if err != nil {
		return nil, fmt.Errorf("failed to open peer okvs: %w", err)
	}
	if b, ok := store.(*okvs.Banded); ok && len(msg.Encoding) != b.Config().Columns {
		return nil, fmt.Errorf("peer encoding has %d blocks, expected %d", len(msg.Encoding), b.Config().Columns)
	}
	return store, nil
}

// pad appends uniformly random pairs until target pairs exist. Random keys
// that collide with an existing key are drawn again.
func pad(pairs []okvs.Pair, target int, rand io.Reader) ([]okvs.Pair, error) {
	out := make([]okvs.Pair, len(pairs), max(target, len(pairs)))
	copy(out, pairs)

	seen := make(map[okvs.Key]struct{}, target)
	for _, pair := range pairs {
		seen[pair.Key] = struct{}{}
	}

	var buf [okvs.KeySize + okvs.ValueSize]byte
	for len(out) < target {
		if _, err := io.ReadFull(rand, buf[:]); err != nil {
			return nil, fmt.Errorf("failed to draw padding: %w", err)
		}
		key := okvs.KeyFromUint64(binary.LittleEndian.Uint64(buf[:okvs.KeySize]))
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, okvs.Pair{
			Key:   key,
			Value: okvs.ValueFromUint64(binary.LittleEndian.Uint64(buf[okvs.KeySize:])),
		})
	}
	return out, nil
}

func binKey(b binning.Bin) okvs.Key {
	return okvs.KeyFromUint64(uint64(b))
}
