package facade

import (
	"context"

	"github.com/cloudvault/core/usage"
)

// uploadUsageAccountant adapts *usage.Accountant's struct-returning
// UserStorageUsage to upload.UsageAccountant's flattened 3-value return;
// Increment/Decrement already match and are passed through.
type uploadUsageAccountant struct {
	acc *usage.Accountant
}

func (a uploadUsageAccountant) UserStorageUsage(ctx context.Context, owner string) (usedBytes, maxBytes, maxUploadSizeBytes int64, err error) {
	u, err := a.acc.UserStorageUsage(ctx, owner)
	if err != nil {
		return 0, 0, 0, err
	}

	return u.UsedBytes, u.MaxBytes, u.MaxUploadSizeBytes, nil
}

func (a uploadUsageAccountant) Increment(ctx context.Context, owner string, delta int64) error {
	return a.acc.Increment(ctx, owner, delta)
}

func (a uploadUsageAccountant) Decrement(ctx context.Context, owner string, delta int64) error {
	return a.acc.Decrement(ctx, owner, delta)
}
