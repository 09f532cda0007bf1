package storagekey_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cloudvault/core/cverr"
	"github.com/cloudvault/core/storagekey"
)

func TestNormalizeDir(t *testing.T) {
	require.Equal(t, "", storagekey.NormalizeDir("/"))
	require.Equal(t, "", storagekey.NormalizeDir(""))
	require.Equal(t, "a/b", storagekey.NormalizeDir("/a/b/"))
	require.Equal(t, "a/b", storagekey.NormalizeDir("a//b"))
}

func TestJoinKeyAndKeyBuilder(t *testing.T) {
	require.Equal(t, "u1/docs/a.txt", storagekey.JoinKey("u1", "docs/", "/a.txt"))

	build := storagekey.KeyBuilder("u1")
	require.Equal(t, "u1/docs/a.txt", build("docs", "a.txt"))
	require.Equal(t, "u1", storagekey.OwnerPrefix("u1")[:2])
}

func TestNormalizeArchiveEntryPath(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"a/b.txt", "a/b.txt", true},
		{"../etc/passwd", "", false},
		{"/abs/path", "", false},
		{"", "", false},
		{"a/../../b", "", false},
		{"a/./b", "a/b", true},
	}

	for _, c := range cases {
		got, ok := storagekey.NormalizeArchiveEntryPath(c.in)
		require.Equal(t, c.ok, ok, c.in)
		if ok {
			require.Equal(t, c.want, got, c.in)
		}
	}
}

func TestValidateLeafName(t *testing.T) {
	require.NoError(t, storagekey.ValidateLeafName("new-name.txt"))

	err := storagekey.ValidateLeafName("a/b")
	require.Error(t, err)
	require.Equal(t, cverr.KindBadRequest, cverr.KindOf(err))

	err = storagekey.ValidateLeafName("")
	require.Equal(t, cverr.KindBadRequest, cverr.KindOf(err))
}

func TestBuildArchiveExtractPrefix(t *testing.T) {
	require.Equal(t, "u1/docs/photos", storagekey.BuildArchiveExtractPrefix("u1/docs/photos.zip", ".zip"))
	require.Equal(t, "archive", storagekey.BuildArchiveExtractPrefix("archive.tar.gz", ".tar.gz"))
}

func TestIsUnderSecureAndPlaceholder(t *testing.T) {
	require.True(t, storagekey.IsUnderSecure(".secure/encrypted-folders.json"))
	require.False(t, storagekey.IsUnderSecure("docs/.secure-ish/file"))
	require.True(t, storagekey.IsPlaceholder("u1/docs/.emptyFolderPlaceholder"))
}
