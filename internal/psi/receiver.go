package psi

import (
	"context"
	"fmt"

	"github.com/mundrapranay/fuzzy-psi/internal/okvs"
)

// Receiver is party B: it answers the sender's OKVS bin by bin.
type Receiver struct {
	*party
}

// NewReceiver prepares party B for the given point set.
func NewReceiver(config Config, points []uint64, opts Options) (*Receiver, error) {
	p, err := newParty(config, points, opts, "receiver")
	if err != nil {
		return nil, err
	}
	return &Receiver{party: p}, nil
}

// Step2 decodes the sender's message at each local bin, runs sub-protocol
// step 2 with the local point of that bin and encodes the replies.
func (r *Receiver) Step2(ctx context.Context, fromSender *Message) (*Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	store, err := r.open(fromSender)
	if err != nil {
		return nil, fmt.Errorf("step 2: %w", err)
	}

	pairs := make([]okvs.Pair, 0, len(r.bins))
	for _, bin := range r.bins {
		key := binKey(bin)
		msg := store.Decode(fromSender.Encoding, key)
		point, ok := r.pointFor(bin)
		if !ok {
			continue
		}
		pairs = append(pairs, okvs.Pair{Key: key, Value: r.opts.SubProtocol.Step2(msg, point)})
	}

	r.logger.Info("step 2", "points", len(r.points), "bins", len(r.bins), "pairs", len(pairs))
	reply, err := r.encode(ctx, pairs, r.config.ReceiverPadding)
	if err != nil {
		return nil, fmt.Errorf("step 2: %w", err)
	}
	return reply, nil
}
