//go:build !unix

package tiktok

import (
	"os"
	"os/exec"
)

func setProcGroup(*exec.Cmd) {}

// signalGroup can only reach the root process on this platform.
func signalGroup(cmd *exec.Cmd, kill bool) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	if kill {
		return cmd.Process.Kill()
	}
	return cmd.Process.Signal(os.Interrupt)
}
