// Package recovery - supervisor.go is the process-replacement capability.
package recovery

import (
	"fmt"
	"os"
)

// Supervisor replaces the running process image with a fresh copy of itself.
// Injected so tests can observe the hard restart without dying.
type Supervisor interface {
	Respawn() error
}

// ExecSupervisor spawns a new copy of the own executable with the same
// arguments and environment, then exits. Respawn does not return on success.
type ExecSupervisor struct{}

// Respawn starts the replacement process and terminates this one.
func (ExecSupervisor) Respawn() error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to locate own executable: %w", err)
	}

	_, err = os.StartProcess(exe, os.Args, &os.ProcAttr{
		Env:   os.Environ(),
		Files: []*os.File{os.Stdin, os.Stdout, os.Stderr},
	})
	if err != nil {
		return fmt.Errorf("failed to respawn process: %w", err)
	}

	os.Exit(0)
	return nil // unreachable
}
