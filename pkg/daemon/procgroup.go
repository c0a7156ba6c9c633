package daemon

import (
	"fmt"
	"syscall"

	"golang.org/x/sys/unix"
)

// EnterProcessGroup makes the daemon the leader of a new process group so
// every job child can be signalled together on shutdown. A process that
// already leads a session keeps its group.
func EnterProcessGroup() error {
	if unix.Getpid() == unix.Getpgrp() {
		return nil
	}
	if err := unix.Setpgid(0, 0); err != nil {
		return fmt.Errorf("setpgid: %w", err)
	}
	return nil
}

// SignalGroup sends sig to every process in the daemon's group, the daemon
// included. Callers ignore sig first.
func SignalGroup(sig syscall.Signal) error {
	if err := unix.Kill(0, sig); err != nil {
		return fmt.Errorf("signal process group: %w", err)
	}
	return nil
}
