// Package clock implements the device clock and the monotonic-forward
// application of synchronized time.
package clock

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// DefaultSkew is the forward correction applied to a received epoch to
// compensate the downlink latency.
const DefaultSkew = 5 * time.Second

// ErrUnsupported is returned when the clock can not be set on this platform.
var ErrUnsupported = errors.New("setting the system clock is not supported")

// Clock defines the device clock.
type Clock interface {
	Now() time.Time
	Set(t time.Time) error
}

// Apply sets the clock to epoch + skew when epoch is strictly greater than the
// current clock time (in seconds). It returns true when the clock was set.
func Apply(c Clock, epoch int64, skew time.Duration) (bool, error) {
	now := c.Now().Unix()
	if epoch <= now {
		log.WithFields(log.Fields{
			"epoch": epoch,
			"now":   now,
		}).Debug("clock: ignoring epoch not ahead of local clock")
		return false, nil
	}

	t := time.Unix(epoch, 0).Add(skew)
	if err := c.Set(t); err != nil {
		return false, errors.Wrap(err, "set clock error")
	}

	log.WithFields(log.Fields{
		"epoch": epoch,
		"time":  t,
	}).Info("clock: time synchronized")
	return true, nil
}

// Software is a clock implemented as an offset on top of a time source.
type Software struct {
	mu     sync.RWMutex
	source func() time.Time
	offset time.Duration
}

// NewSoftware creates a Software clock using the given time source. When nil,
// time.Now is used.
func NewSoftware(source func() time.Time) *Software {
	if source == nil {
		source = time.Now
	}
	return &Software{source: source}
}

// Now returns the current clock time.
func (s *Software) Now() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.source().Add(s.offset)
}

// Set sets the clock time.
func (s *Software) Set(t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offset = t.Sub(s.source())
	return nil
}
