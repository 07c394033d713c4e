package collector

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hostsentry/agent/internal/models"
)

func TestPersistencePollReadsEntries(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "job"), []byte("0 3 * * * root /usr/local/bin/backup.sh\n"), 0644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "subdir"), 0755))

	c := NewPersistenceCollector([]string{dir}, zap.NewNop())
	snap, err := c.Poll(context.Background())

	require.NoError(t, err)
	assert.Equal(t, models.CategoryPersistence, snap.Category)
	require.Len(t, snap.Items, 1, "directories themselves are not persistence points")

	item := snap.Items[0].(models.PersistencePointItem)
	assert.Equal(t, filepath.Join(dir, "job"), item.KeyPath)
	assert.Contains(t, item.Value, "backup.sh")
	assert.Len(t, item.ContentHash, 64)
}

func TestPersistenceContentChangeChangesFingerprint(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "job")
	require.NoError(t, os.WriteFile(path, []byte("original"), 0644))

	c := NewPersistenceCollector([]string{dir}, zap.NewNop())

	first, err := c.Poll(context.Background())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("tampered"), 0644))
	second, err := c.Poll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first.Items[0].Key(), second.Items[0].Key())
	assert.NotEqual(t, first.Items[0].Fingerprint(), second.Items[0].Fingerprint())
}

func TestPersistenceMissingDirectoryNotFatal(t *testing.T) {
	c := NewPersistenceCollector([]string{"/nonexistent/cron.d"}, zap.NewNop())

	snap, err := c.Poll(context.Background())

	require.NoError(t, err, "an inaccessible directory is an expected condition, not an error")
	assert.Empty(t, snap.Items)
}

func TestPersistenceValueTruncated(t *testing.T) {
	dir := t.TempDir()
	big := make([]byte, 4096)
	for i := range big {
		big[i] = 'x'
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "big"), big, 0644))

	c := NewPersistenceCollector([]string{dir}, zap.NewNop())
	snap, err := c.Poll(context.Background())

	require.NoError(t, err)
	item := snap.Items[0].(models.PersistencePointItem)
	assert.Len(t, item.Value, maxPersistenceValueBytes)
}
