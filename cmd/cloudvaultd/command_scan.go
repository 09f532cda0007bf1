package main

import (
	"context"
	"io"

	"github.com/alecthomas/kingpin/v2"
	"github.com/pkg/errors"

	"github.com/cloudvault/core/antivirus"
	"github.com/cloudvault/core/cvconfig"
	"github.com/cloudvault/core/objectstore"
)

// gatewayAVStore adapts *objectstore.Gateway to antivirus.Store.
type gatewayAVStore struct{ gw *objectstore.Gateway }

func (s gatewayAVStore) GetObject(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	obj, err := s.gw.GetObject(ctx, key)
	if err != nil {
		return nil, 0, err
	}

	info, err := s.gw.HeadObject(ctx, key)
	if err != nil {
		obj.Close()
		return nil, 0, err
	}

	return obj, info.Size, nil
}

func setupScanCommand(kp *kingpin.Application, a *app) {
	scanCmd := kp.Command("scan", "Run an antivirus scan against one object and print the verdict")
	scanOwner := scanCmd.Flag("owner", "Owner id").Required().String()
	scanKey := scanCmd.Flag("key", "Storage key of the object to scan").Required().String()
	scanCmd.Action(func(*kingpin.ParseContext) error {
		return a.runScan(*scanOwner, *scanKey)
	})
}

func (a *app) runScan(owner, key string) error {
	ctx := context.Background()

	gw, err := a.gateway()
	if err != nil {
		return errors.Wrap(err, "connecting to object store")
	}

	cfg := cvconfig.Load()
	cache := a.cache()

	scanner := antivirus.New(gatewayAVStore{gw}, cache, antivirus.Options{
		Enabled:       cfg.Antivirus.Enabled,
		Host:          cfg.Antivirus.Host,
		Port:          cfg.Antivirus.Port,
		MaxScanBytes:  cfg.Antivirus.MaxScanBytes,
		SocketTimeout: cfg.Antivirus.SocketTimeout,
		Concurrency:   cfg.Antivirus.Concurrency,
	})

	if err := scanner.Enqueue(ctx, owner, key); err != nil {
		return errors.Wrap(err, "enqueueing scan")
	}

	result, ok, err := antivirus.Lookup(ctx, cache, owner, key)
	if err != nil {
		return errors.Wrap(err, "reading scan result")
	}

	if !ok {
		a.printf("No scan result published for %q yet.\n", key)
		return nil
	}

	a.printf("Scan result for %q: %s (signature=%q)\n", key, result.Status, result.Signature)

	return nil
}
