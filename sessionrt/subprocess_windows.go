//go:build windows

package sessionrt

import (
	"fmt"
	"os/exec"

	"golang.org/x/sys/windows"
)

// spawnArgs runs the generated script through powershell.exe. The user
// argument is ignored: the exec.Cmd-based Run in subprocess.go launches the
// child as the current process identity, and Run does not call
// spawnWithIdentity, so no target principal is applied on Windows.
func spawnArgs(command []string, user SessionUser) (string, []string) {
	args := append([]string{"-NonInteractive", "-File"}, command...)
	return "powershell.exe", args
}

// spawnWithIdentity selects between the two cross-user launch paths for a
// WindowsSessionUser: createProcessAsUser when a logon token is present,
// otherwise createProcessWithLogonW for the password case. Both functions
// currently return an error without launching anything and without
// building an environment block.
func spawnWithIdentity(user *WindowsSessionUser, commandLine string, workingDirectory string, env []string) error {
	if user.Token != 0 {
		return createProcessAsUser(windows.Handle(user.Token), commandLine, workingDirectory, env)
	}
	return createProcessWithLogonW(user, commandLine, workingDirectory, env)
}

func createProcessAsUser(token windows.Handle, commandLine string, workingDirectory string, env []string) error {
	return fmt.Errorf("CreateProcessAsUserW launch path not available outside an interactive Windows session")
}

func createProcessWithLogonW(user *WindowsSessionUser, commandLine string, workingDirectory string, env []string) error {
	return fmt.Errorf("CreateProcessWithLogonW launch path not available outside an interactive Windows session")
}

// sendNotifySignal dispatches CTRL_BREAK_EVENT to the child's process
// group, the Windows "please stop cooperatively" signal. Delivering it to
// another process group requires AttachConsole to that group first; since
// this process is not itself console-allocated in the general case, this is
// a documented stub rather than a verified path.
func sendNotifySignal(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	pid := uint32(cmd.Process.Pid)
	if err := windows.AttachConsole(pid); err != nil {
		return fmt.Errorf("attaching to console of pid %d: %w", pid, err)
	}
	defer windows.FreeConsole()
	return windows.GenerateConsoleCtrlEvent(windows.CTRL_BREAK_EVENT, pid)
}
