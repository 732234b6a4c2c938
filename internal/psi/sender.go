package psi

import (
	"context"
	"fmt"
	"sort"

	"github.com/mundrapranay/fuzzy-psi/internal/binning"
	"github.com/mundrapranay/fuzzy-psi/internal/okvs"
)

// Sender is party A: it opens the protocol and learns the intersection.
type Sender struct {
	*party
	states map[binning.Bin]uint64
}

// NewSender prepares party A for the given point set.
func NewSender(config Config, points []uint64, opts Options) (*Sender, error) {
	p, err := newParty(config, points, opts, "sender")
	if err != nil {
		return nil, err
	}
	return &Sender{party: p, states: make(map[binning.Bin]uint64)}, nil
}

// Step1 runs sub-protocol step 1 for every bin that has a local point and
// encodes the messages, keyed by bin, into the first OKVS.
func (s *Sender) Step1(ctx context.Context) (*Message, error) {
	pairs := make([]okvs.Pair, 0, len(s.bins))
	for _, bin := range s.bins {
		point, ok := s.pointFor(bin)
		if !ok {
			continue
		}
		msg, state := s.opts.SubProtocol.Step1(point)
		s.states[bin] = state
		pairs = append(pairs, okvs.Pair{Key: binKey(bin), Value: msg})
	}

	s.logger.Info("step 1", "points", len(s.points), "bins", len(s.bins), "pairs", len(pairs))
	msg, err := s.encode(ctx, pairs, s.config.SenderPadding)
	if err != nil {
		return nil, fmt.Errorf("step 1: %w", err)
	}
	return msg, nil
}

// Step3 decodes the receiver's reply at every bin with retained state and
// returns the matched values, ascending and without duplicates.
func (s *Sender) Step3(ctx context.Context, reply *Message) ([]uint64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	store, err := s.open(reply)
	if err != nil {
		return nil, fmt.Errorf("step 3: %w", err)
	}

	matched := make(map[uint64]struct{})
	for _, bin := range s.bins {
		state, ok := s.states[bin]
		if !ok {
			continue
		}
		fromReceiver := store.Decode(reply.Encoding, binKey(bin))
		if v, ok := s.opts.SubProtocol.Step3(state, fromReceiver, s.config.Delta); ok {
			matched[v] = struct{}{}
		}
	}

	out := make([]uint64, 0, len(matched))
	for v := range matched {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })

	s.logger.Info("step 3", "matches", len(out))
	return out, nil
}
