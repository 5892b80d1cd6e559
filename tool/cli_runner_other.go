//go:build !windows

package tool

import "os/exec"

func setCommandLine(*exec.Cmd, []string) {}
