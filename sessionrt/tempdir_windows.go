//go:build windows

package sessionrt

import (
	"fmt"
	"os/user"
)

// grantTempDirAccess sets an inheritable DACL granting full control to the
// current principal and owner, so files later created inside the directory
// are themselves accessible to both.
func grantTempDirAccess(path string, owner SessionUser) error {
	winUser, ok := owner.(*WindowsSessionUser)
	if !ok {
		return fmt.Errorf("create_temp_dir: owner must be a windows user on this platform")
	}
	currentUser, err := user.Current()
	if err != nil {
		return fmt.Errorf("looking up current process user: %w", err)
	}
	return grantFullControl(path, []string{currentUser.Username, winUser.Username()}, true)
}
