//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package lifecycle

import (
	"os"
	"os/exec"
)

// Without process groups only the direct child can be reached; descendants
// it spawned survive a kill.
const groupSignals = false

func setProcessGroup(*exec.Cmd) {}

func terminate(*os.Process) error { return nil }

func forceKill(p *os.Process) error {
	return p.Kill()
}

func signalOf(*os.ProcessState) string { return "" }
