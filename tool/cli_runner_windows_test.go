//go:build windows

package tool

import (
	"os/exec"
	"testing"
)

func TestSetCommandLinePassesWrapperVerbatim(t *testing.T) {
	argv, err := NewCLIRunner(CLIRunnerConfig{}).WrapCommand([]string{"echo", `say "hi" & bye`})
	if err != nil {
		t.Fatalf("WrapCommand() error = %v", err)
	}
	cmd := exec.Command(argv[0], argv[1:]...)
	setCommandLine(cmd, argv)

	want := `cmd /S /C "echo "say ""hi"" & bye""`
	if cmd.SysProcAttr == nil || cmd.SysProcAttr.CmdLine != want {
		t.Fatalf("CmdLine = %+v, want %q", cmd.SysProcAttr, want)
	}
}
