// Package node implements the duty-cycle of a LoRaWAN node: join, clock
// synchronization, status uplink, downlink handling and sleep.
package node

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/thingpilot/lorawan-node/internal/backend/mac"
	"github.com/thingpilot/lorawan-node/internal/clock"
	"github.com/thingpilot/lorawan-node/internal/codec"
	"github.com/thingpilot/lorawan-node/internal/router"
	"github.com/thingpilot/lorawan-node/internal/session"
)

// Session defines the session operations used by the Runner.
type Session interface {
	State() session.State
	UplinkRequired() bool
	PendingDownlinks() int
	Join(ctx context.Context, class mac.DeviceClass) error
	Send(ctx context.Context, port uint8, payload []byte) (int, error)
	Receive(ctx context.Context) (router.DownlinkMessage, error)
	SynchronizeTime(ctx context.Context) (bool, error)
	Sleep(ctx context.Context) error
	Wake(ctx context.Context) error
}

// Config holds the runner configuration.
type Config struct {
	Class             mac.DeviceClass
	UplinkPort        uint8
	UplinkInterval    time.Duration
	ClockSyncInterval time.Duration
	Sleep             bool
}

// Runner runs the duty-cycle of the node.
type Runner struct {
	conf    Config
	session Session
	clock   clock.Clock

	mu       sync.RWMutex
	schedule []uint64
	lastSync time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewRunner creates a new Runner.
func NewRunner(conf Config, s Session, clk clock.Clock) *Runner {
	if conf.UplinkPort == 0 {
		conf.UplinkPort = 1
	}
	if conf.UplinkInterval <= 0 {
		conf.UplinkInterval = 15 * time.Minute
	}

	return &Runner{
		conf:    conf,
		session: s,
		clock:   clk,
	}
}

// Start starts the duty-cycle loop.
func (r *Runner) Start() error {
	if !router.ApplicationPort(r.conf.UplinkPort) {
		return errors.Errorf("invalid uplink port: %d", r.conf.UplinkPort)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})

	log.WithFields(log.Fields{
		"uplink_port":     r.conf.UplinkPort,
		"uplink_interval": r.conf.UplinkInterval,
		"sleep":           r.conf.Sleep,
	}).Info("node: starting duty-cycle")

	go r.loop(ctx)
	return nil
}

// Stop stops the duty-cycle loop and waits for the running cycle to
// complete.
func (r *Runner) Stop() error {
	if r.cancel == nil {
		return nil
	}
	r.cancel()
	<-r.done
	log.Info("node: duty-cycle stopped")
	return nil
}

// Schedule returns the last schedule received on the scheduler port.
func (r *Runner) Schedule() []uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]uint64, len(r.schedule))
	copy(out, r.schedule)
	return out
}

// Interval returns the interval until the next cycle. The first value of a
// received schedule overrides the configured uplink interval (in seconds).
func (r *Runner) Interval() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.schedule) != 0 && r.schedule[0] != 0 {
		return time.Duration(r.schedule[0]) * time.Second
	}
	return r.conf.UplinkInterval
}

func (r *Runner) loop(ctx context.Context) {
	defer close(r.done)

	for {
		if err := r.Cycle(ctx); err != nil {
			log.WithError(err).WithField("status", session.Status(err)).Error("node: cycle error")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(r.Interval()):
		}
	}
}

// Cycle runs a single duty-cycle.
func (r *Runner) Cycle(ctx context.Context) error {
	if r.session.State() == session.Sleeping {
		if err := r.session.Wake(ctx); err != nil {
			return errors.Wrap(err, "wake error")
		}
	}

	if r.session.State() == session.Disconnected {
		if err := r.session.Join(ctx, r.conf.Class); err != nil {
			return errors.Wrap(err, "join error")
		}
	}

	r.synchronizeTime(ctx)

	// downlinks received during the clock synchronization
	for r.session.PendingDownlinks() > 0 {
		msg, err := r.session.Receive(ctx)
		if err != nil {
			return errors.Wrap(err, "receive pending downlink error")
		}
		r.handleDownlink(msg)
	}

	payload, err := codec.PutUint(uint64(r.clock.Now().Unix()), 4)
	if err != nil {
		return errors.Wrap(err, "encode uplink error")
	}
	if _, err := r.session.Send(ctx, r.conf.UplinkPort, payload); err != nil {
		return errors.Wrap(err, "send uplink error")
	}

	msg, err := r.session.Receive(ctx)
	if err != nil {
		return errors.Wrap(err, "receive error")
	}
	r.handleDownlink(msg)

	if r.session.UplinkRequired() {
		log.Info("node: sending uplink requested by mac stack")
		if _, err := r.session.Send(ctx, r.conf.UplinkPort, nil); err != nil {
			return errors.Wrap(err, "send required uplink error")
		}
	}

	if r.conf.Sleep {
		if err := r.session.Sleep(ctx); err != nil {
			return errors.Wrap(err, "sleep error")
		}
	}

	return nil
}

func (r *Runner) synchronizeTime(ctx context.Context) {
	if r.conf.ClockSyncInterval <= 0 {
		return
	}

	r.mu.RLock()
	due := r.lastSync.IsZero() || time.Since(r.lastSync) >= r.conf.ClockSyncInterval
	r.mu.RUnlock()
	if !due {
		return
	}

	applied, err := r.session.SynchronizeTime(ctx)
	if err != nil {
		log.WithError(err).Warning("node: clock synchronization failed")
		return
	}

	r.mu.Lock()
	r.lastSync = time.Now()
	r.mu.Unlock()

	log.WithField("applied", applied).Info("node: clock synchronized")
}

func (r *Runner) handleDownlink(msg router.DownlinkMessage) {
	if msg.Empty() {
		return
	}

	logFields := log.Fields{
		"f_port":   msg.Port,
		"category": msg.Category,
	}

	switch msg.Category {
	case router.Scheduler:
		r.mu.Lock()
		r.schedule = msg.Values
		r.mu.Unlock()
		log.WithFields(logFields).WithField("schedule", msg.Values).Info("node: schedule updated")
	case router.Data:
		log.WithFields(logFields).WithField("value", msg.Integer).Info("node: data received")
	}
}
