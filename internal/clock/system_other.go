// +build !linux

package clock

import "time"

// System is the operating system clock. Setting it is only supported on
// Linux.
type System struct{}

// Now returns the system time.
func (System) Now() time.Time {
	return time.Now()
}

// Set returns ErrUnsupported.
func (System) Set(t time.Time) error {
	return ErrUnsupported
}
