package main

import (
	"fmt"
	"io"

	"github.com/alecthomas/kingpin/v2"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/cloudvault/core/cvconfig"
	"github.com/cloudvault/core/cvlog"
	"github.com/cloudvault/core/facade"
	"github.com/cloudvault/core/kv"
	"github.com/cloudvault/core/objectstore"
	"github.com/cloudvault/core/usage"
)

// app holds the global flags every subcommand's action reads, and the
// lazily-constructed dependencies (object store gateway, cache, facade)
// built from them. Registered once in setup; subcommands only ever read the
// already-parsed flag values through app's helper methods, the same
// division kopia's *App keeps between app.go and each command_*.go.
type app struct {
	out io.Writer

	s3Endpoint  *string
	s3AccessKey *string
	s3SecretKey *string
	s3UseSSL    *bool
	s3Bucket    *string
	publicHost  *string

	redisAddr *string
	logLevel  *string

	maxBytes       *int64
	maxUploadBytes *int64
	planSlug       *string
}

func newApp(out io.Writer) *app {
	return &app{out: out}
}

func (a *app) setup(kp *kingpin.Application) {
	a.s3Endpoint = kp.Flag("s3-endpoint", "S3-compatible endpoint host:port").Envar("CLOUD_S3_ENDPOINT").Required().String()
	a.s3AccessKey = kp.Flag("s3-access-key", "S3 access key ID").Envar("CLOUD_S3_ACCESS_KEY").Required().String()
	a.s3SecretKey = kp.Flag("s3-secret-key", "S3 secret access key").Envar("CLOUD_S3_SECRET_KEY").Required().String()
	a.s3UseSSL = kp.Flag("s3-use-ssl", "Use TLS against the S3 endpoint").Envar("CLOUD_S3_USE_SSL").Default("true").Bool()
	a.s3Bucket = kp.Flag("s3-bucket", "Bucket holding every owner's objects").Envar("CLOUD_S3_BUCKET").Required().String()
	a.publicHost = kp.Flag("public-hostname", "Hostname substituted into presigned URLs").Envar("CLOUD_PUBLIC_HOSTNAME").String()

	a.redisAddr = kp.Flag("redis-addr", "Redis address for the shared KV/cache store; empty uses an in-process store").Envar("CLOUD_REDIS_ADDR").String()
	a.logLevel = kp.Flag("log-level", "debug, info, warn, or error").Envar("CLOUD_LOG_LEVEL").Default("info").String()

	a.maxBytes = kp.Flag("max-bytes", "Flat storage quota applied to every owner (0 disables the check)").Envar("CLOUD_MAX_BYTES").Int64()
	a.maxUploadBytes = kp.Flag("max-upload-bytes", "Flat per-upload size cap applied to every owner (0 disables the check)").Envar("CLOUD_MAX_UPLOAD_BYTES").Int64()
	a.planSlug = kp.Flag("plan-slug", "Plan slug reported for every owner").Envar("CLOUD_PLAN_SLUG").Default("free").String()

	kp.PreAction(func(*kingpin.ParseContext) error {
		return a.initLogging()
	})

	kp.Command("bucket-init", "Create the configured bucket if it does not already exist").Action(a.runBucketInit)

	setupUsageCommands(kp, a)
	setupArchiveCommands(kp, a)
	setupScanCommand(kp, a)
}

func (a *app) initLogging() error {
	var cfg zap.Config

	switch *a.logLevel {
	case "debug":
		cfg = zap.NewDevelopmentConfig()
	default:
		cfg = zap.NewProductionConfig()
	}

	level, err := zap.ParseAtomicLevel(*a.logLevel)
	if err == nil {
		cfg.Level = level
	}

	z, err := cfg.Build()
	if err != nil {
		return errors.Wrap(err, "building logger")
	}

	cvlog.SetBackend(z)

	return nil
}

func (a *app) gateway() (*objectstore.Gateway, error) {
	return objectstore.New(objectstore.Options{
		Endpoint:        *a.s3Endpoint,
		AccessKeyID:     *a.s3AccessKey,
		SecretAccessKey: *a.s3SecretKey,
		UseSSL:          *a.s3UseSSL,
		Bucket:          *a.s3Bucket,
		PublicHostname:  *a.publicHost,
	})
}

func (a *app) cache() kv.Store {
	if *a.redisAddr == "" {
		return kv.NewMemoryStore()
	}

	return kv.NewRedisStore(redis.NewClient(&redis.Options{Addr: *a.redisAddr}))
}

func (a *app) subscription() usage.Subscription {
	return staticSubscription{maxBytes: *a.maxBytes, maxUploadBytes: *a.maxUploadBytes, planSlug: *a.planSlug}
}

func (a *app) newFacade() (*facade.Facade, error) {
	gw, err := a.gateway()
	if err != nil {
		return nil, errors.Wrap(err, "connecting to object store")
	}

	return facade.New(cvconfig.Load(), facade.Deps{
		Gateway:      gw,
		Cache:        a.cache(),
		Subscription: a.subscription(),
	}), nil
}

func (a *app) printf(format string, args ...interface{}) {
	fmt.Fprintf(a.out, format, args...)
}
