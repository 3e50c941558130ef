//go:build unix

package mcp

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// exitDetail renders the exit status, translating signal-terminated exits
// into the signal's name.
func exitDetail(state *os.ProcessState) string {
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		sig := ws.Signal()
		return fmt.Sprintf("terminated by signal %s: %s", unix.SignalName(sig), sig.String())
	}
	return fmt.Sprintf("exit code %d", state.ExitCode())
}

// shellCommand builds the legacy shell-interpreted launch form.
func shellCommand(command string) *exec.Cmd {
	return exec.Command("/bin/sh", "-c", command)
}

// terminate requests graceful shutdown.
func terminate(p *os.Process) {
	p.Signal(syscall.SIGTERM)
}
