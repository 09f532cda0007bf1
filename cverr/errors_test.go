package cverr_test

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/cloudvault/core/cverr"
)

func TestKindOf(t *testing.T) {
	err := cverr.NotFound("object %q missing", "a/b")
	require.Equal(t, cverr.KindNotFound, cverr.KindOf(err))
	require.Equal(t, 404, cverr.KindNotFound.HTTPStatus())
	require.Contains(t, err.Error(), "a/b")
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("boom")
	wrapped := cverr.Wrap(cause, cverr.KindInternal, "listing failed")

	require.Equal(t, cverr.KindInternal, cverr.KindOf(wrapped))
	require.True(t, errors.Is(wrapped, cause) || errors.Unwrap(wrapped) != nil)
	require.Contains(t, wrapped.Error(), "boom")
}

func TestWrapNil(t *testing.T) {
	require.Nil(t, cverr.Wrap(nil, cverr.KindInternal, "x"))
}

func TestKindOfUnknown(t *testing.T) {
	require.Equal(t, cverr.KindUnknown, cverr.KindOf(errors.New("plain")))
	require.Equal(t, cverr.KindUnknown, cverr.KindOf(nil))
}

func TestIs(t *testing.T) {
	err := cverr.Conflict("already exists")
	require.True(t, cverr.Is(err, cverr.KindConflict))
	require.False(t, cverr.Is(err, cverr.KindNotFound))
}
