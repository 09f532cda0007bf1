package cvlog_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/cloudvault/core/cvlog"
)

var log = cvlog.GetContextLoggerFunc("testmod")

func TestFallbackLoggerDoesNotPanic(t *testing.T) {
	require.NotPanics(t, func() {
		log(context.Background()).Infof("hello %s", "world")
	})
}

func TestContextLoggerCarriesFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	cvlog.SetBackend(zap.New(core))

	base := cvlog.GetContextLoggerFunc("base")(context.Background()).With("owner", "u1")
	ctx := cvlog.WithContext(context.Background(), base)

	log(ctx).Infof("did a thing")

	entries := logs.TakeAll()
	require.Len(t, entries, 1)
	require.Equal(t, "u1", entries[0].ContextMap()["owner"])
	require.Equal(t, "testmod", entries[0].ContextMap()["module"])
}
