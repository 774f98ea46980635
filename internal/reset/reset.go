// Package reset implements the device restart triggered by the reset port.
package reset

import (
	"os"

	log "github.com/sirupsen/logrus"
)

// Restarter restarts the device. Restart does not return on success.
type Restarter interface {
	Restart()
}

// Process restarts the running process by replacing it with a new instance
// of the same executable. When that fails, the process exits and the
// service manager is expected to restart it.
type Process struct {
	// ExitCode is the exit code used when re-executing fails.
	ExitCode int
}

// Restart restarts the process.
func (p Process) Restart() {
	log.Warning("reset: restart requested by network")

	exe, err := os.Executable()
	if err != nil {
		log.WithError(err).Error("reset: get executable error")
		p.exit()
		return
	}

	if err := execSelf(exe, os.Args, os.Environ()); err != nil {
		log.WithError(err).WithField("executable", exe).Error("reset: exec error")
	}
	p.exit()
}

func (p Process) exit() {
	code := p.ExitCode
	if code == 0 {
		code = 1
	}
	log.WithField("exit_code", code).Warning("reset: exiting process")
	exitFunc(code)
}

var exitFunc = os.Exit
