//go:build windows

package sessionrt

import (
	"fmt"
	"os"
	"os/user"

	"golang.org/x/sys/windows"
)

// WriteFileForUser writes filename with data, then -- if owner is set --
// grants full control to both the current process principal and owner via
// an explicit DACL with inheritance flags.
func WriteFileForUser(filename string, data string, owner SessionUser, additionalPermissions os.FileMode) error {
	f, err := os.OpenFile(filename, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
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
		winUser, ok := owner.(*WindowsSessionUser)
		if !ok {
			return fmt.Errorf("write_file_for_user: user must be a windows user on this platform")
		}
		currentUser, err := user.Current()
		if err != nil {
			return fmt.Errorf("looking up current process user: %w", err)
		}
		return grantFullControl(filename, []string{currentUser.Username, winUser.Username()}, false)
	}
	return nil
}

// grantFullControl sets an explicit DACL on path granting FILE_ALL_ACCESS to
// each named principal. When inheritable is true, the ACEs are flagged for
// propagation to child objects (used for directories). golang.org/x/sys/windows
// exposes the Win32 security APIs this needs without a cgo dependency.
func grantFullControl(path string, principals []string, inheritable bool) error {
	sids := make([]*windows.SID, 0, len(principals))
	for _, p := range principals {
		sid, _, _, err := windows.LookupSID("", p)
		if err != nil {
			return fmt.Errorf("looking up SID for principal %s: %w", p, err)
		}
		sids = append(sids, sid)
	}

	var entries []windows.EXPLICIT_ACCESS
	inheritFlags := windows.NO_INHERITANCE
	if inheritable {
		inheritFlags = windows.CONTAINER_INHERIT_ACE | windows.OBJECT_INHERIT_ACE
	}
	for _, sid := range sids {
		entries = append(entries, windows.EXPLICIT_ACCESS{
			AccessPermissions: windows.GENERIC_ALL,
			AccessMode: windows.GRANT_ACCESS,
			Inheritance: uint32(inheritFlags),
			Trustee: windows.TRUSTEE{
				TrusteeForm: windows.TRUSTEE_IS_SID,
				TrusteeType: windows.TRUSTEE_IS_USER,
				TrusteeValue: windows.TrusteeValueFromSID(sid),
			},
		})
	}

	acl, err := windows.ACLFromEntries(entries, nil)
	if err != nil {
		return fmt.Errorf("building DACL for %s: %w", path, err)
	}
	return windows.SetNamedSecurityInfo(
		path,
		windows.SE_FILE_OBJECT,
		windows.DACL_SECURITY_INFORMATION,
		nil, nil, acl, nil,
	)
}
