package psi

import (
	"github.com/mundrapranay/fuzzy-psi/internal/okvs"
)

// SubProtocol is the per-bin comparison the parties run through the OKVS
// messages. A secure realization replaces Insecure without touching the
// orchestration.
type SubProtocol interface {
	// Step1 runs on the sender for the point behind one of its bins. The
	// message is encoded under the bin; the state stays with the sender.
	Step1(point uint64) (message okvs.Value, state uint64)

	// Step2 runs on the receiver with the sender's message decoded at one of
	// the receiver's bins and the receiver's point for that bin.
	Step2(fromSender okvs.Value, point uint64) okvs.Value

	// Step3 runs on the sender with its retained state and the receiver's
	// reply. It reports the matched value, if any.
	Step3(state uint64, fromReceiver okvs.Value, delta uint64) (uint64, bool)
}

// Insecure exchanges points in the clear. It exists to exercise the
// orchestration and offers no privacy at all.
type Insecure struct{}

// Step1 sends the point and keeps it as state.
func (Insecure) Step1(point uint64) (okvs.Value, uint64) {
	return okvs.ValueFromUint64(point), point
}

// Step2 replies with the receiver's own point.
func (Insecure) Step2(_ okvs.Value, point uint64) okvs.Value {
	return okvs.ValueFromUint64(point)
}

// Step3 matches when the reply lies in [state−δ, state+δ].
func (Insecure) Step3(state uint64, fromReceiver okvs.Value, delta uint64) (uint64, bool) {
	v := fromReceiver.Uint64()
	lo := uint64(0)
	if state > delta {
		lo = state - delta
	}
	hi := state + delta
	if hi < state {
		hi = ^uint64(0)
	}
	if v < lo || v > hi {
		return 0, false
	}
	return v, true
}
