package queue

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusTerminal(t *testing.T) {
	for _, s := range []Status{StatusPending, StatusUploading, StatusRetrying} {
		assert.False(t, s.Terminal(), s)
	}
	for _, s := range []Status{StatusCompleted, StatusFailed, StatusCancelled} {
		assert.True(t, s.Terminal(), s)
	}
}

func TestFileFromBytes(t *testing.T) {
	f := FileFromBytes("scan.png", []byte("not really a png"))
	assert.Equal(t, "scan.png", f.Name)
	assert.Equal(t, int64(16), f.Size)

	// Each Open gets a fresh reader, so retries can re-read.
	for i := 0; i < 2; i++ {
		rc, err := f.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		assert.Equal(t, "not really a png", string(data))
		rc.Close()
	}
}

func TestFileFromPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "order.pdf")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0644))

	f, err := FileFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "order.pdf", f.Name)
	assert.Equal(t, int64(5), f.Size)

	rc, err := f.Open()
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestFileFromPathErrors(t *testing.T) {
	_, err := FileFromPath(filepath.Join(t.TempDir(), "missing.bin"))
	assert.Error(t, err)

	_, err = FileFromPath(t.TempDir())
	assert.Error(t, err)
}

func TestNextDelayExponentialWithCap(t *testing.T) {
	task := &Task{}
	base := 100 * time.Millisecond
	cap := 350 * time.Millisecond

	first := task.nextDelay(base, cap)
	second := task.nextDelay(base, cap)
	third := task.nextDelay(base, cap)
	fourth := task.nextDelay(base, cap)

	assert.Equal(t, base, first)
	assert.Equal(t, 2*base, second)
	assert.LessOrEqual(t, third, cap)
	assert.LessOrEqual(t, fourth, cap)
	assert.GreaterOrEqual(t, third, second)
}
