package sessionrt

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	hclog "github.com/hashicorp/go-hclog"
	uuid "github.com/hashicorp/go-uuid"
)

// TempDir is a randomly-named directory created under a supplied parent
// (default: the host temp directory), granted to a principal and removed
// recursively on Cleanup.
type TempDir struct {
	Path string
	logger hclog.Logger
	owner SessionUser
}

// CreateTempDir allocates a fresh, randomly-named directory under parent
// (os.TempDir when parent is empty). On POSIX the directory is created
// mode 0700, then -- if owner is non-nil -- its group is changed to the
// owner's group *before* permissions are widened to 0770: a failed group
// change must never leave the directory group-writable to the wrong group.
// On Windows an explicit, inheritable DACL grants the owner full control.
func CreateTempDir(logger hclog.Logger, parent string, owner SessionUser) (*TempDir, error) {
	if parent == "" {
		parent = os.TempDir()
	}
	if err := checkWorldWritableAncestors(logger, parent); err != nil {
		logger.Warn("could not check parent directory permissions", "error", err)
	}

	random, err := uuid.GenerateUUID()
	if err != nil {
		return nil, fmt.Errorf("generating temp directory name: %w", err)
	}
	path := filepath.Join(parent, "openjd-"+random)
	if err := os.Mkdir(path, 0o700); err != nil {
		return nil, fmt.Errorf("creating temp directory %s: %w", path, err)
	}

	if err := grantOwnerAccess(path, owner); err != nil {
		return nil, err
	}

	return &TempDir{Path: path, logger: logger, owner: owner}, nil
}

// Cleanup recursively removes the directory. Unlike os.RemoveAll, it
// collects every per-path removal error rather than stopping at the first,
// and surfaces them as a single error enumerating the unremovable paths. A
// directory that no longer exists is not an error -- Cleanup is idempotent.
func (t *TempDir) Cleanup() error {
	if _, err := os.Lstat(t.Path); os.IsNotExist(err) {
		return nil
	}
	var failed []string
	err := filepath.Walk(t.Path, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			failed = append(failed, fmt.Sprintf("%s (%s)", path, walkErr))
			return nil
		}
		if info.IsDir() {
			return nil
		}
		if rmErr := os.Remove(path); rmErr != nil {
			failed = append(failed, fmt.Sprintf("%s (%s)", path, rmErr))
		}
		return nil
	})
	if err != nil {
		failed = append(failed, fmt.Sprintf("%s (%s)", t.Path, err))
	}

	// Now remove directories bottom-up; RemoveAll on what's left handles
	// the directory tree itself once files are gone (or reports the
	// survivors, which we've already recorded above for files).
	if err := os.RemoveAll(t.Path); err != nil && !os.IsNotExist(err) {
		failed = append(failed, fmt.Sprintf("%s (%s)", t.Path, err))
	}

	if len(failed) > 0 {
		return fmt.Errorf("could not remove temp directory %s; unremovable paths: %s", t.Path, strings.Join(failed, "; "))
	}
	return nil
}

// checkWorldWritableAncestors warns (never fails) when an ancestor of
// parent is world-writable without the sticky bit set.
func checkWorldWritableAncestors(logger hclog.Logger, parent string) error {
	dir := parent
	for {
		info, err := os.Stat(dir)
		if err != nil {
			return err
		}
		mode := info.Mode()
		if mode&0o002 != 0 && mode&os.ModeSticky == 0 {
			logger.Warn("ancestor directory is world-writable without the sticky bit set", "path", dir)
		}
		parentDir := filepath.Dir(dir)
		if parentDir == dir {
			return nil
		}
		dir = parentDir
	}
}

// grantOwnerAccess extends access to owner per the platform's rules. A nil
// owner leaves the directory at its creation mode.
func grantOwnerAccess(path string, owner SessionUser) error {
	if owner == nil {
		return nil
	}
	return grantTempDirAccess(path, owner)
}
