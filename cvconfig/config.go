// Package cvconfig loads the environment-variable configuration surface
// named in the design (§6) into a typed Config struct. Components never read
// os.Getenv themselves; they take the sub-struct they need, the way
// kopia/cli commands take explicit flag values rather than re-reading global
// state, and per the design's "replace attribute-style validation with an
// explicit step" redesign note, there is no reflection-based env binding
// here — every field is assigned explicitly in Load.
package cvconfig

import (
	"os"
	"strconv"
	"time"

	"github.com/alecthomas/units"
)

// Listing holds the listing-engine tunables.
type Listing struct {
	MetadataMax         int
	MetadataConcurrency int
	CacheTTL            time.Duration
	ThumbnailCacheTTL   time.Duration
	SearchScanMax       int
}

// ArchiveExtract holds archive-extract tunables.
type ArchiveExtract struct {
	JobConcurrency     int
	EntryConcurrency   int
	ProgressEntries    int
	ProgressBytes      int64
	MaxEntries         int
	MaxEntryBytes      int64
	MaxTotalBytes      int64
	MaxCompressionRate float64
}

// ArchiveCreate holds archive-create tunables.
type ArchiveCreate struct {
	MaxFiles      int
	MaxTotalBytes int64
}

// Antivirus holds the AV-scanner tunables.
type Antivirus struct {
	Enabled       bool
	Host          string
	Port          int
	MaxScanBytes  int64
	SocketTimeout time.Duration
	Concurrency   int
}

// Usage holds the usage-accounting / reconciliation tunables.
type Usage struct {
	ReconcileCron  string
	ReconcileBatch int
}

// Config is the fully assembled environment configuration.
type Config struct {
	Listing           Listing
	ArchiveExtract    ArchiveExtract
	ArchiveCreate     ArchiveCreate
	ArchivePreviewMax int64
	RARMaxBufferBytes int64
	Antivirus         Antivirus
	Usage             Usage
	IdempotencyTTL    time.Duration
}

// Default returns a Config with the defaults documented in the design.
func Default() *Config {
	return &Config{
		Listing: Listing{
			MetadataMax:         1000,
			MetadataConcurrency: 5,
			CacheTTL:            time.Hour,
			ThumbnailCacheTTL:   time.Hour,
			SearchScanMax:       10000,
		},
		ArchiveExtract: ArchiveExtract{
			JobConcurrency:     1,
			EntryConcurrency:   3,
			ProgressEntries:    5,
			ProgressBytes:      5 * 1024 * 1024,
			MaxEntries:         100000,
			MaxEntryBytes:      10 * 1024 * 1024 * 1024,
			MaxTotalBytes:      50 * 1024 * 1024 * 1024,
			MaxCompressionRate: 100,
		},
		ArchiveCreate: ArchiveCreate{
			MaxFiles:      50000,
			MaxTotalBytes: 50 * 1024 * 1024 * 1024,
		},
		ArchivePreviewMax: 200 * 1024 * 1024,
		RARMaxBufferBytes: 2 * 1024 * 1024 * 1024,
		Antivirus: Antivirus{
			Enabled:       false,
			Host:          "localhost",
			Port:          3310,
			MaxScanBytes:  500 * 1024 * 1024,
			SocketTimeout: 60 * time.Second,
			Concurrency:   2,
		},
		Usage: Usage{
			ReconcileCron:  "*/15 * * * *",
			ReconcileBatch: 50,
		},
		IdempotencyTTL: 5 * time.Minute,
	}
}

// Load reads the environment variables documented in the design over top of
// Default(), returning the resulting Config. Malformed values are ignored
// (the default for that field is kept) rather than failing process startup,
// matching the design's "recovered locally" posture for ambient
// misconfiguration.
func Load() *Config {
	c := Default()

	envInt(&c.Listing.MetadataMax, "CLOUD_LIST_METADATA_MAX")
	envInt(&c.Listing.MetadataConcurrency, "CLOUD_LIST_METADATA_CONCURRENCY")
	envSeconds(&c.Listing.CacheTTL, "CLOUD_LIST_CACHE_TTL_SECONDS")
	envSeconds(&c.Listing.ThumbnailCacheTTL, "CLOUD_LIST_THUMBNAIL_CACHE_TTL_SECONDS")
	envInt(&c.Listing.SearchScanMax, "CLOUD_SEARCH_SCAN_MAX")

	envInt(&c.ArchiveExtract.JobConcurrency, "ARCHIVE_EXTRACT_JOB_CONCURRENCY")
	envInt(&c.ArchiveExtract.EntryConcurrency, "ARCHIVE_EXTRACT_ENTRY_CONCURRENCY")
	envInt(&c.ArchiveExtract.ProgressEntries, "ARCHIVE_EXTRACT_PROGRESS_ENTRIES")
	envBytes(&c.ArchiveExtract.ProgressBytes, "ARCHIVE_EXTRACT_PROGRESS_BYTES")
	envInt(&c.ArchiveExtract.MaxEntries, "ARCHIVE_EXTRACT_MAX_ENTRIES")
	envBytes(&c.ArchiveExtract.MaxEntryBytes, "ARCHIVE_EXTRACT_MAX_ENTRY_BYTES")
	envBytes(&c.ArchiveExtract.MaxTotalBytes, "ARCHIVE_EXTRACT_MAX_TOTAL_BYTES")
	envFloat(&c.ArchiveExtract.MaxCompressionRate, "ARCHIVE_EXTRACT_MAX_RATIO")

	envInt(&c.ArchiveCreate.MaxFiles, "ARCHIVE_CREATE_MAX_FILES")
	envBytes(&c.ArchiveCreate.MaxTotalBytes, "ARCHIVE_CREATE_MAX_TOTAL_BYTES")

	envBytes(&c.ArchivePreviewMax, "ARCHIVE_PREVIEW_MAX_BYTES")
	envBytes(&c.RARMaxBufferBytes, "RAR_MAX_BUFFER_BYTES")

	envBool(&c.Antivirus.Enabled, "CLOUD_AV_ENABLED")
	envString(&c.Antivirus.Host, "CLOUD_AV_HOST")
	envInt(&c.Antivirus.Port, "CLOUD_AV_PORT")
	envBytes(&c.Antivirus.MaxScanBytes, "CLOUD_AV_MAX_BYTES")
	envMillis(&c.Antivirus.SocketTimeout, "CLOUD_AV_SOCKET_TIMEOUT_MS")
	envInt(&c.Antivirus.Concurrency, "CLOUD_AV_CONCURRENCY")

	envString(&c.Usage.ReconcileCron, "CLOUD_USAGE_RECONCILE_CRON")
	envInt(&c.Usage.ReconcileBatch, "CLOUD_USAGE_RECONCILE_BATCH")

	envSeconds(&c.IdempotencyTTL, "CLOUD_IDEMPOTENCY_TTL_SECONDS")

	return c
}

func envString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func envBool(dst *bool, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envFloat(dst *float64, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envSeconds(dst *time.Duration, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = time.Duration(n) * time.Second
		}
	}
}

func envMillis(dst *time.Duration, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = time.Duration(n) * time.Millisecond
		}
	}
}

// envBytes parses a human-readable byte size (e.g. "10GB", "500MiB") using
// alecthomas/units, falling back to a plain integer byte count.
func envBytes(dst *int64, key string) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return
	}

	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		*dst = n
		return
	}

	if n, err := units.ParseStrictBytes(v); err == nil {
		*dst = n
	}
}
