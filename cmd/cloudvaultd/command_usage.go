package main

import (
	"context"
	"strings"

	"github.com/alecthomas/kingpin/v2"
	"github.com/pkg/errors"

	"github.com/cloudvault/core/cvconfig"
	"github.com/cloudvault/core/objectstore"
	"github.com/cloudvault/core/storagekey"
	"github.com/cloudvault/core/usage"
)

// gatewayLister adapts *objectstore.Gateway to usage.Lister by paging
// through an owner's objects under its prefix and summing sizes, mirroring
// facade's own internal adapter for the same interface.
type gatewayLister struct{ gw *objectstore.Gateway }

func (l gatewayLister) SumSizeUnderPrefix(ctx context.Context, prefix string) (int64, error) {
	var total int64

	var continuationToken string

	for {
		page, err := l.gw.ListV2(ctx, prefix, "", "", continuationToken, 1000)
		if err != nil {
			return 0, err
		}

		for _, o := range page.Objects {
			if storagekey.IsPlaceholder(o.Key) {
				continue
			}

			total += o.Size
		}

		if !page.IsTruncated {
			break
		}

		continuationToken = page.NextContinuation
	}

	return total, nil
}

// staticOwnerSource feeds usage.Reconciler a fixed owner list, standing in
// for whatever owns the real owner directory (out of scope here, same as
// staticSubscription); ListOwnersBatch simply windows the fixed slice.
type staticOwnerSource struct {
	owners []string
}

func (s staticOwnerSource) ListOwnersBatch(ctx context.Context, offset, limit int) ([]string, error) {
	if offset >= len(s.owners) {
		return nil, nil
	}

	end := offset + limit
	if end > len(s.owners) {
		end = len(s.owners)
	}

	return s.owners[offset:end], nil
}

func setupUsageCommands(kp *kingpin.Application, a *app) {
	usageCmd := kp.Command("usage", "Usage accounting operations")

	recomputeCmd := usageCmd.Command("recompute", "Force a fresh ListV2-backed recompute of one owner's usage counter")
	recomputeOwner := recomputeCmd.Flag("owner", "Owner id to recompute").Required().String()
	recomputeCmd.Action(func(*kingpin.ParseContext) error {
		return a.runUsageRecompute(*recomputeOwner)
	})

	reconcileCmd := usageCmd.Command("reconcile", "Run the periodic usage reconciliation sweep until interrupted")
	reconcileOwners := reconcileCmd.Flag("owners", "Comma-separated owner ids to sweep").Required().String()
	reconcileCmd.Action(func(*kingpin.ParseContext) error {
		return a.runUsageReconcile(strings.Split(*reconcileOwners, ","))
	})
}

func (a *app) runUsageRecompute(owner string) error {
	ctx := context.Background()

	gw, err := a.gateway()
	if err != nil {
		return errors.Wrap(err, "connecting to object store")
	}

	accountant := usage.New(gatewayLister{gw}, a.subscription(), a.cache())
	if _, err := accountant.Recompute(ctx, owner); err != nil {
		return errors.Wrapf(err, "recomputing usage for owner %q", owner)
	}

	u, err := accountant.UserStorageUsage(ctx, owner)
	if err != nil {
		return errors.Wrapf(err, "reading usage for owner %q", owner)
	}

	a.printf("Owner %q: %d/%d bytes used (%.1f%%), limit exceeded: %v\n", owner, u.UsedBytes, u.MaxBytes, u.UsagePercentage, u.IsLimitExceeded)

	return nil
}

func (a *app) runUsageReconcile(owners []string) error {
	ctx := context.Background()

	gw, err := a.gateway()
	if err != nil {
		return errors.Wrap(err, "connecting to object store")
	}

	cache := a.cache()
	cfg := cvconfig.Load()

	accountant := usage.New(gatewayLister{gw}, a.subscription(), cache)
	reconciler := usage.NewReconciler(accountant, staticOwnerSource{owners: owners}, cfg.Usage.ReconcileCron, cfg.Usage.ReconcileBatch)

	a.printf("Reconciling usage for %d owner(s) on schedule %q...\n", len(owners), cfg.Usage.ReconcileCron)

	return reconciler.Run(ctx)
}
