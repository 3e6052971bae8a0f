package logging

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew_Development(t *testing.T) {
	t.Parallel()

	logger, err := New(Options{Development: true})
	require.NoError(t, err)
	require.NotNil(t, logger)
	logger.Debug("dev logger works")
}

func TestNew_ProductionWithFile(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "crawl.log")
	logger, err := New(Options{File: file})
	require.NoError(t, err)
	logger.Info("written to rotated file")
	require.NoError(t, logger.Sync())
}
