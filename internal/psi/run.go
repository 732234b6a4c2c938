package psi

import (
	"context"
	"fmt"
)

// Run executes all three steps in process and returns the fuzzy intersection
// as seen by the sender. A failure in any step aborts the round.
func Run(ctx context.Context, config Config, senderPoints, receiverPoints []uint64, opts Options) ([]uint64, error) {
	sender, err := NewSender(config, senderPoints, opts)
	if err != nil {
		return nil, err
	}
	receiver, err := NewReceiver(config, receiverPoints, opts)
	if err != nil {
		return nil, err
	}

	first, err := sender.Step1(ctx)
	if err != nil {
		return nil, err
	}
	reply, err := receiver.Step2(ctx, first)
	if err != nil {
		return nil, err
	}
	return sender.Step3(ctx, reply)
}

// RunSender plays party A against a peer reachable through t.
func RunSender(ctx context.Context, config Config, points []uint64, t Transport, opts Options) ([]uint64, error) {
	sender, err := NewSender(config, points, opts)
	if err != nil {
		return nil, err
	}

	first, err := sender.Step1(ctx)
	if err != nil {
		return nil, err
	}
	if err := t.Publish(ctx, RoleSender, first); err != nil {
		return nil, fmt.Errorf("failed to publish step 1: %w", err)
	}

	reply, err := t.Fetch(ctx, RoleReceiver)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch step 2: %w", err)
	}
	return sender.Step3(ctx, reply)
}

// RunReceiver plays party B against a peer reachable through t.
func RunReceiver(ctx context.Context, config Config, points []uint64, t Transport, opts Options) error {
	receiver, err := NewReceiver(config, points, opts)
	if err != nil {
		return err
	}

	first, err := t.Fetch(ctx, RoleSender)
	if err != nil {
		return fmt.Errorf("failed to fetch step 1: %w", err)
	}
	reply, err := receiver.Step2(ctx, first)
	if err != nil {
		return err
	}
	if err := t.Publish(ctx, RoleReceiver, reply); err != nil {
		return fmt.Errorf("failed to publish step 2: %w", err)
	}
	return nil
}
