package collector

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hostsentry/agent/internal/models"
)

const (
	// maxScanDepth bounds how deep the walk descends below each
	// configured scan directory.
	maxScanDepth = 4

	// maxHashSize bounds which files are hashed when malware scanning
	// is enabled; bigger files only carry size and mtime.
	maxHashSize = 32 << 20 // 32 MiB
)

// FilesystemCollector walks the configured scan directories and snapshots
// the files found there. When hashing is enabled, files with a watched
// extension are fingerprinted with SHA-256 so the central service can
// match them against its signature sets.
type FilesystemCollector struct {
	dirs        []string
	extensions  map[string]struct{}
	hashEnabled bool
	logger      *zap.Logger
}

// NewFilesystemCollector builds the filesystem collector. extensions
// selects which files get tagged and hashed (e.g. ".exe", ".sh").
func NewFilesystemCollector(dirs, extensions []string, hashEnabled bool, logger *zap.Logger) *FilesystemCollector {
	extSet := make(map[string]struct{}, len(extensions))
	for _, ext := range extensions {
		extSet[strings.ToLower(ext)] = struct{}{}
	}
	return &FilesystemCollector{
		dirs:        dirs,
		extensions:  extSet,
		hashEnabled: hashEnabled,
		logger:      logger,
	}
}

func (c *FilesystemCollector) Name() string              { return "filesystem" }
func (c *FilesystemCollector) Category() models.Category { return models.CategoryFile }

func (c *FilesystemCollector) Start(ctx context.Context) error { return nil }
func (c *FilesystemCollector) Stop() error                     { return nil }

// Poll walks every scan directory. Unreadable subtrees are skipped, not
// fatal: a partially scanned directory still yields a usable snapshot.
func (c *FilesystemCollector) Poll(ctx context.Context) (*models.Snapshot, error) {
	var items []models.Item
	for _, dir := range c.dirs {
		base := filepath.Clean(dir)
		err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err != nil {
				c.logger.Debug("scan path not accessible", zap.String("path", path), zap.Error(err))
				if d != nil && d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.IsDir() {
				if depth(base, path) > maxScanDepth {
					return filepath.SkipDir
				}
				return nil
			}
			if item, ok := c.readArtifact(path, d); ok {
				items = append(items, item)
			}
			return nil
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.logger.Debug("scan directory walk failed", zap.String("dir", dir), zap.Error(err))
		}
	}

	return &models.Snapshot{
		Category:  models.CategoryFile,
		Timestamp: time.Now().UTC(),
		Items:     items,
	}, nil
}

func (c *FilesystemCollector) readArtifact(path string, d fs.DirEntry) (models.FileArtifact, bool) {
	info, err := d.Info()
	if err != nil {
		return models.FileArtifact{}, false
	}

	item := models.FileArtifact{
		Path:    path,
		Size:    info.Size(),
		ModTime: info.ModTime().UTC(),
	}

	ext := strings.ToLower(filepath.Ext(path))
	if _, watched := c.extensions[ext]; watched {
		item.Tags = append(item.Tags, "executable-extension")
		if c.hashEnabled && info.Size() <= maxHashSize {
			if sum, err := hashFile(path); err == nil {
				item.SHA256 = sum
			}
		}
	}
	if info.Mode()&0111 != 0 {
		item.Tags = append(item.Tags, "executable-mode")
	}
	return item, true
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// depth counts path separators between base and path.
func depth(base, path string) int {
	rel, err := filepath.Rel(base, path)
	if err != nil || rel == "." {
		return 0
	}
	return strings.Count(rel, string(filepath.Separator)) + 1
}
