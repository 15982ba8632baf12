//go:build !windows

package sessionrt

import (
	"fmt"
	"os"
	"os/user"
	"strconv"
	"syscall"
)

// WriteFileForUser (re)writes filename with data, owner-only by default
// (0600), widening to group r/w (and conditionally group-execute, via
// additionalPermissions) when user is non-nil. The group change is applied
// before widening permissions so a failed chown never leaves the file
// group-accessible to the wrong group.
//
// additionalPermissions may carry S_IXUSR/S_IXGRP-equivalent bits (0100 and
// 0010) to make the written file executable.
func WriteFileForUser(filename string, data string, owner SessionUser, additionalPermissions os.FileMode) error {
	mode := os.FileMode(0o600) | (additionalPermissions & 0o700)

	f, err := os.OpenFile(filename, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("opening %s for write: %w", filename, err)
	}
	if _, err := f.WriteString(data); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", filename, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", filename, err)
	}

	if owner != nil {
		posixUser, ok := owner.(*PosixSessionUser)
		if !ok {
			return fmt.Errorf("write_file_for_user: user must be a posix user on this platform")
		}
		group, err := user.LookupGroup(posixUser.Group)
		if err != nil {
			return fmt.Errorf("looking up group %s: %w", posixUser.Group, err)
		}
		gid, err := strconv.Atoi(group.Gid)
		if err != nil {
			return fmt.Errorf("parsing gid for group %s: %w", posixUser.Group, err)
		}
		if err := os.Chown(filename, -1, gid); err != nil {
			return fmt.Errorf("changing group of %s to %s: %w", filename, posixUser.Group, err)
		}
		// Only widen permissions after the group change succeeds, so a
		// failed chown never leaves the file group-accessible to the
		// wrong group.
		mode |= 0o060 | (additionalPermissions & 0o070)
		if err := os.Chmod(filename, mode); err != nil {
			return fmt.Errorf("changing mode of %s: %w", filename, err)
		}
	}
	return nil
}

// chownPathGroup changes only the group ownership of path, used by the temp
// directory manager before widening permissions.
func chownPathGroup(path string, groupName string) error {
	group, err := user.LookupGroup(groupName)
	if err != nil {
		return fmt.Errorf("looking up group %s: %w", groupName, err)
	}
	gid, err := strconv.Atoi(group.Gid)
	if err != nil {
		return fmt.Errorf("parsing gid for group %s: %w", groupName, err)
	}
	if err := syscall.Chown(path, -1, gid); err != nil {
		return fmt.Errorf("could not change ownership of %s (error: %w); ensure the current user is a member of group %s", path, err, groupName)
	}
	return nil
}
