//go:build windows

package tool

import (
	"os/exec"
	"syscall"
)

// setCommandLine hands the cmd.exe wrapper line to CreateProcess unchanged;
// exec.Cmd would otherwise escape it with C runtime rules cmd.exe ignores.
func setCommandLine(cmd *exec.Cmd, argv []string) {
	if len(argv) != 4 || argv[0] != "cmd" || argv[2] != "/C" {
		return
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{CmdLine: `cmd /S /C "` + argv[3] + `"`}
}
