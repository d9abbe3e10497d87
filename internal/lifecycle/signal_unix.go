//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package lifecycle

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

const groupSignals = true

func setProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

func terminate(p *os.Process) error {
	return signalGroup(p, syscall.SIGTERM)
}

func forceKill(p *os.Process) error {
	return signalGroup(p, syscall.SIGKILL)
}

// signalGroup signals the whole group when p leads its own group, otherwise
// only p, so a command sharing our group never takes us down with it.
func signalGroup(p *os.Process, sig syscall.Signal) error {
	target := p.Pid
	if pgid, err := syscall.Getpgid(p.Pid); err == nil && pgid == p.Pid {
		target = -pgid
	}
	err := syscall.Kill(target, sig)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}

func signalOf(state *os.ProcessState) string {
	ws, ok := state.Sys().(syscall.WaitStatus)
	if !ok || !ws.Signaled() {
		return ""
	}
	return ws.Signal().String()
}
