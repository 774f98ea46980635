// +build linux

package clock

import (
	"syscall"
	"time"

	"github.com/pkg/errors"
)

// System is the operating system clock. Setting it requires CAP_SYS_TIME.
type System struct{}

// Now returns the system time.
func (System) Now() time.Time {
	return time.Now()
}

// Set sets the system time.
func (System) Set(t time.Time) error {
	tv := syscall.NsecToTimeval(t.UnixNano())
	if err := syscall.Settimeofday(&tv); err != nil {
		return errors.Wrap(err, "settimeofday error")
	}
	return nil
}
