//go:build windows

package shellrun

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/windows"
)

// setProcessGroup starts the child in a new process group. Windows has no
// SIGTERM, so unlike the Unix build, termination is always immediate (see
// terminateGracefully), and Kill() stops only the child process itself,
// not its descendants.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: windows.CREATE_NEW_PROCESS_GROUP}
}

// terminateGracefully has no SIGTERM equivalent on Windows; Kill()
// (TerminateProcess) is the only stop signal available, same as
// cmd/sentinel-gate/cmd/process_windows.go's sendGracefulStop.
func terminateGracefully(cmd *exec.Cmd) {
	if cmd.Process != nil {
		cmd.Process.Kill()
	}
}

func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process != nil {
		cmd.Process.Kill()
	}
}
