//go:build !windows

package sessionrt

import (
	"fmt"
	"os"
)

// grantTempDirAccess changes path's group to owner's group, then widens
// permissions to 0770. The group change must succeed before permissions are
// widened -- a failed chown must never leave the directory group-writable
// to whichever group happened to own it before.
func grantTempDirAccess(path string, owner SessionUser) error {
	posixUser, ok := owner.(*PosixSessionUser)
	if !ok {
		return fmt.Errorf("create_temp_dir: owner must be a posix user on this platform")
	}
	if err := chownPathGroup(path, posixUser.Group); err != nil {
		return err
	}
	if err := os.Chmod(path, 0o770); err != nil {
		return fmt.Errorf("changing mode of %s: %w", path, err)
	}
	return nil
}
