//go:build windows

package sessionrt

import (
	"fmt"
	"os/user"
)

// WindowsSessionUser is the {user, group?, password? | token?} principal
// descriptor for Windows hosts. Exactly one of Password/Token must be set
// when User differs from the current process identity; the Token path is
// preferred over Password when both are present.
type WindowsSessionUser struct {
	User string
	Group string // optional; used for ACL grants when set
	Password string
	Token uintptr // a Windows HANDLE to a logon token; 0 means "not provided"
}

// NewWindowsSessionUserWithPassword builds a principal that will be launched
// via CreateProcessWithLogonW.
func NewWindowsSessionUserWithPassword(username, domain, password string) (*WindowsSessionUser, error) {
	if err := ValidatePrincipal(username, domain); err != nil {
		return nil, err
	}
	normalized, err := NormalizeWindowsUsername(username, domain)
	if err != nil {
		return nil, err
	}
	return &WindowsSessionUser{User: normalized, Password: password}, nil
}

// NewWindowsSessionUserWithToken builds a principal that will be launched
// via CreateProcessAsUserW using a caller-supplied logon token. This is
// preferred whenever a token is available: it supports Session-0 execution,
// which CreateProcessWithLogonW cannot do.
func NewWindowsSessionUserWithToken(username string, token uintptr) (*WindowsSessionUser, error) {
	if err := ValidatePrincipal(username, ""); err != nil {
		return nil, err
	}
	return &WindowsSessionUser{User: username, Token: token}, nil
}

func (w *WindowsSessionUser) Username() string { return w.User }

func (w *WindowsSessionUser) IsProcessUser() (bool, error) {
	current, err := user.Current()
	if err != nil {
		return false, fmt.Errorf("looking up current process user: %w", err)
	}
	return current.Username == w.User, nil
}

// NormalizeWindowsUsername returns the down-level form "DOMAIN\user" when a
// domain is supplied, and username unchanged otherwise. It calls no
// name-translation service: a UPN-form username ("user@domain.com") is not
// converted to down-level form.
func NormalizeWindowsUsername(username, domain string) (string, error) {
	if domain != "" {
		return domain + `\` + username, nil
	}
	return username, nil
}
