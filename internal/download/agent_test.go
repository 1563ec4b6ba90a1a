package download

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kodjooo/email-payment-processor/internal/procerror"
)

func TestIsPartial(t *testing.T) {
	tests := []struct {
		name     string
		file     string
		expected bool
	}{
		{"Chrome in-progress", "statement.zip.crdownload", true},
		{"Temp file", "statement.tmp", true},
		{"Partial file", "statement.zip.part", true},
		{"Uppercase suffix", "statement.ZIP.CRDOWNLOAD", true},
		{"Completed zip", "statement.zip", false},
		{"Completed rar", "statement.rar", false},
		{"Suffix in the middle", "statement.part.zip", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, isPartial(tc.file))
		})
	}
}

func TestWaitForDownloadFindsCompletedFile(t *testing.T) {
	dir := t.TempDir()
	before, err := snapshotDir(dir)
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = os.WriteFile(filepath.Join(dir, "statement.zip"), []byte("archive"), 0o600)
	}()

	path, err := waitForDownload(context.Background(), dir, before, 5*time.Second)

	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "statement.zip"), path)
}

func TestWaitForDownloadIgnoresPartialAndPreexistingFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "old.zip"), []byte("old"), 0o600))

	before, err := snapshotDir(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "statement.zip.crdownload"), []byte("x"), 0o600))

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = os.WriteFile(filepath.Join(dir, "statement.zip"), []byte("archive"), 0o600)
	}()

	path, err := waitForDownload(context.Background(), dir, before, 5*time.Second)

	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "statement.zip"), path)
}

func TestWaitForDownloadSkipsEmptyFiles(t *testing.T) {
	dir := t.TempDir()
	before, err := snapshotDir(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "empty.zip"), nil, 0o600))

	_, err = waitForDownload(context.Background(), dir, before, 600*time.Millisecond)

	var timeoutErr *procerror.DownloadTimeoutError
	assert.True(t, errors.As(err, &timeoutErr))
}

func TestWaitForDownloadTimesOut(t *testing.T) {
	dir := t.TempDir()
	before, err := snapshotDir(dir)
	require.NoError(t, err)

	_, err = waitForDownload(context.Background(), dir, before, 600*time.Millisecond)

	var timeoutErr *procerror.DownloadTimeoutError
	require.True(t, errors.As(err, &timeoutErr))
	assert.Equal(t, procerror.BucketDownloadTimeout, procerror.Classify(err))
}

func TestWaitForDownloadHonorsCancellation(t *testing.T) {
	dir := t.TempDir()
	before, err := snapshotDir(dir)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = waitForDownload(ctx, dir, before, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
}
