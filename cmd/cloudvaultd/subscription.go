package main

import "context"

// staticSubscription is the CLI's stand-in for the (out-of-scope)
// subscription record usage.Subscription depends on: every owner gets the
// same flat quota and plan slug, configured from flags/env rather than
// looked up per owner. A real deployment wires usage.Subscription to its
// own billing/subscription store instead.
type staticSubscription struct {
	maxBytes       int64
	maxUploadBytes int64
	planSlug       string
}

func (s staticSubscription) MaxBytes(ctx context.Context, owner string) (int64, error) {
	return s.maxBytes, nil
}

func (s staticSubscription) MaxUploadSizeBytes(ctx context.Context, owner string) (int64, error) {
	return s.maxUploadBytes, nil
}

func (s staticSubscription) Feature(ctx context.Context, owner, key string) (string, bool, error) {
	return "", false, nil
}

func (s staticSubscription) PlanSlug(ctx context.Context, owner string) (string, error) {
	return s.planSlug, nil
}
