//go:build !windows

package sessionrt

import (
	"fmt"
	"os"
	"os/user"
)

// PosixSessionUser is the {user, group} principal descriptor for POSIX
// hosts. Group defaults to the process' effective group when not supplied.
type PosixSessionUser struct {
	User string
	Group string
}

// NewPosixSessionUser resolves the process' effective group as the default
// when group is empty.
func NewPosixSessionUser(username string, group string) (*PosixSessionUser, error) {
	if err := ValidatePrincipal(username, ""); err != nil {
		return nil, err
	}
	if group == "" {
		gid := os.Getegid()
		g, err := user.LookupGroupId(fmt.Sprintf("%d", gid))
		if err != nil {
			return nil, fmt.Errorf("resolving default group for gid %d: %w", gid, err)
		}
		group = g.Name
	}
	return &PosixSessionUser{User: username, Group: group}, nil
}

func (p *PosixSessionUser) Username() string { return p.User }

func (p *PosixSessionUser) IsProcessUser() (bool, error) {
	current, err := user.Current()
	if err != nil {
		return false, fmt.Errorf("looking up current process user: %w", err)
	}
	return current.Username == p.User, nil
}

// ProcessUsername returns the name of the user running the current process.
func ProcessUsername() (string, error) {
	current, err := user.Current()
	if err != nil {
		return "", fmt.Errorf("looking up current process user: %w", err)
	}
	return current.Username, nil
}
