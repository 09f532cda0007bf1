package main

import (
	"context"

	"github.com/alecthomas/kingpin/v2"
	"github.com/minio/minio-go/v7"
	"github.com/pkg/errors"
)

func (a *app) runBucketInit(*kingpin.ParseContext) error {
	ctx := context.Background()

	gw, err := a.gateway()
	if err != nil {
		return errors.Wrap(err, "connecting to object store")
	}

	client := gw.GetClient()
	bucket := gw.GetBuckets()[0]

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return errors.Wrapf(err, "checking whether bucket %q exists", bucket)
	}

	if exists {
		a.printf("Bucket %q already exists.\n", bucket)
		return nil
	}

	if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
		return errors.Wrapf(err, "creating bucket %q", bucket)
	}

	a.printf("Created bucket %q.\n", bucket)

	return nil
}
