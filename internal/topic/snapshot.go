package topic

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/kano-ai/backlog/internal/kanoerr"
)

func snapshotDir(sharedRoot, topicName, snapName string) string {
	return filepath.Join(topicDir(sharedRoot, topicName), "snapshots", snapName)
}

// Snapshot copies manifest.json, notes.md, and brief.generated.md (and,
// if includeMaterials, any spec/ and publish/ subtrees) into
// snapshots/<name>/ under the topic directory. This is a plain
// io/fs-based recursive copy, not an archive: snapshots are directory
// trees, not tar streams.
func Snapshot(sharedRoot, topicName, snapName, agent string, includeMaterials bool, now time.Time) (string, error) {
	if _, err := loadManifest(sharedRoot, topicName); err != nil {
		return "", err
	}
	dst := snapshotDir(sharedRoot, topicName, snapName)
	if _, err := os.Stat(dst); err == nil {
		return "", fmt.Errorf("%w: snapshot %q already exists for topic %q", kanoerr.ErrSchemaViolation, snapName, topicName)
	}
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", fmt.Errorf("topic: creating snapshot dir: %w", err)
	}

	src := topicDir(sharedRoot, topicName)
	for _, f := range []string{"manifest.json", "notes.md", "brief.generated.md"} {
		if err := copyFile(filepath.Join(src, f), filepath.Join(dst, f)); err != nil && !os.IsNotExist(err) {
			return "", err
		}
	}
	if includeMaterials {
		for _, sub := range []string{"spec", "publish"} {
			if err := copyTree(filepath.Join(src, sub), filepath.Join(dst, sub)); err != nil && !os.IsNotExist(err) {
				return "", err
			}
		}
	}
	return dst, nil
}

// RestoreResult is the outcome of Restore.
type RestoreResult struct {
	BackupPath string
}

// Restore selectively restores manifest.json, notes.md, and
// brief.generated.md from snapshots/<name>/ back into the topic
// directory, first backing up the current files into a
// snapshots/.pre-restore-<timestamp>/ directory so Restore itself is
// reversible.
func Restore(sharedRoot, topicName, snapName, agent string, now time.Time) (RestoreResult, error) {
	if _, err := loadManifest(sharedRoot, topicName); err != nil {
		return RestoreResult{}, err
	}
	snapPath := snapshotDir(sharedRoot, topicName, snapName)
	if _, err := os.Stat(snapPath); err != nil {
		return RestoreResult{}, fmt.Errorf("%w: snapshot %q not found for topic %q", kanoerr.ErrTopicNotFound, snapName, topicName)
	}

	backupName := ".pre-restore-" + now.UTC().Format("20060102T150405Z")
	backupPath := snapshotDir(sharedRoot, topicName, backupName)
	if err := os.MkdirAll(backupPath, 0o755); err != nil {
		return RestoreResult{}, fmt.Errorf("topic: creating restore backup dir: %w", err)
	}

	src := topicDir(sharedRoot, topicName)
	for _, f := range []string{"manifest.json", "notes.md", "brief.generated.md"} {
		_ = copyFile(filepath.Join(src, f), filepath.Join(backupPath, f))
		if err := copyFile(filepath.Join(snapPath, f), filepath.Join(src, f)); err != nil && !os.IsNotExist(err) {
			return RestoreResult{}, err
		}
	}

	return RestoreResult{BackupPath: backupPath}, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := ensureDir(dst); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(src, path)
		if relErr != nil {
			return relErr
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target)
	})
}
