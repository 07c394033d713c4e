package collector

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/hostsentry/agent/internal/models"
)

// maxPersistenceValueBytes caps how much of a persistence entry's content
// is carried in the snapshot; the full content is still hashed.
const maxPersistenceValueBytes = 1024

// PersistenceCollector scans autorun-equivalent locations: directories
// whose entries cause code to execute automatically (cron drop dirs,
// init/unit directories, startup folders). Each entry is modeled as a
// key path plus content hash so edits are detectable across snapshots.
type PersistenceCollector struct {
	paths  []string
	logger *zap.Logger
}

// NewPersistenceCollector builds the persistence-point collector.
func NewPersistenceCollector(paths []string, logger *zap.Logger) *PersistenceCollector {
	return &PersistenceCollector{paths: paths, logger: logger}
}

func (c *PersistenceCollector) Name() string              { return "persistence" }
func (c *PersistenceCollector) Category() models.Category { return models.CategoryPersistence }

func (c *PersistenceCollector) Start(ctx context.Context) error { return nil }
func (c *PersistenceCollector) Stop() error                     { return nil }

// Poll reads every configured persistence directory. Inaccessible
// directories are expected on hardened hosts and logged at debug.
func (c *PersistenceCollector) Poll(ctx context.Context) (*models.Snapshot, error) {
	var items []models.Item
	for _, dir := range c.paths {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			c.logger.Debug("persistence directory not readable",
				zap.String("dir", dir), zap.Error(err))
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			path := filepath.Join(dir, entry.Name())
			item, err := c.readPoint(path)
			if err != nil {
				c.logger.Debug("persistence entry not readable",
					zap.String("path", path), zap.Error(err))
				continue
			}
			items = append(items, item)
		}
	}

	return &models.Snapshot{
		Category:  models.CategoryPersistence,
		Timestamp: time.Now().UTC(),
		Items:     items,
	}, nil
}

func (c *PersistenceCollector) readPoint(path string) (models.PersistencePointItem, error) {
	info, err := os.Stat(path)
	if err != nil {
		return models.PersistencePointItem{}, err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return models.PersistencePointItem{}, err
	}

	sum := sha256.Sum256(content)
	value := content
	if len(value) > maxPersistenceValueBytes {
		value = value[:maxPersistenceValueBytes]
	}

	return models.PersistencePointItem{
		KeyPath:     path,
		Value:       string(value),
		ContentHash: hex.EncodeToString(sum[:]),
		ModTime:     info.ModTime().UTC(),
	}, nil
}
