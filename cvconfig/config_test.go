package cvconfig_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cloudvault/core/cvconfig"
)

func TestDefaultValues(t *testing.T) {
	c := cvconfig.Default()
	require.Equal(t, 1000, c.Listing.MetadataMax)
	require.Equal(t, time.Hour, c.Listing.CacheTTL)
	require.Equal(t, "*/15 * * * *", c.Usage.ReconcileCron)
	require.False(t, c.Antivirus.Enabled)
}

func TestLoadOverridesFromEnv(t *testing.T) {
	t.Setenv("CLOUD_LIST_METADATA_MAX", "42")
	t.Setenv("CLOUD_LIST_CACHE_TTL_SECONDS", "30")
	t.Setenv("CLOUD_AV_ENABLED", "true")
	t.Setenv("CLOUD_AV_MAX_BYTES", "10MiB")
	t.Setenv("ARCHIVE_EXTRACT_MAX_RATIO", "250.5")
	t.Setenv("CLOUD_USAGE_RECONCILE_CRON", "0 * * * *")

	c := cvconfig.Load()
	require.Equal(t, 42, c.Listing.MetadataMax)
	require.Equal(t, 30*time.Second, c.Listing.CacheTTL)
	require.True(t, c.Antivirus.Enabled)
	require.EqualValues(t, 10*1024*1024, c.Antivirus.MaxScanBytes)
	require.Equal(t, 250.5, c.ArchiveExtract.MaxCompressionRate)
	require.Equal(t, "0 * * * *", c.Usage.ReconcileCron)
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("CLOUD_LIST_METADATA_MAX", "not-a-number")

	c := cvconfig.Load()
	require.Equal(t, cvconfig.Default().Listing.MetadataMax, c.Listing.MetadataMax)
}
