//go:build windows

package mcp

import (
	"fmt"
	"os"
	"os/exec"
)

// exitDetail renders the exit status. Windows has no signal semantics; the
// raw exit code is all there is.
func exitDetail(state *os.ProcessState) string {
	return fmt.Sprintf("exit code %d", state.ExitCode())
}

// shellCommand builds the legacy shell-interpreted launch form.
func shellCommand(command string) *exec.Cmd {
	return exec.Command("cmd", "/c", command)
}

// terminate requests shutdown; Windows offers no graceful signal, so this
// is already the kill.
func terminate(p *os.Process) {
	p.Kill()
}
