// Package session implements the device-side LoRaWAN session controller. It
// owns the join / connect state machine and exposes join, send, receive and
// sleep as blocking operations on top of the asynchronous MAC stack events.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/brocaar/lorawan"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/thingpilot/lorawan-node/internal/backend/mac"
	"github.com/thingpilot/lorawan-node/internal/clock"
	"github.com/thingpilot/lorawan-node/internal/dispatch"
	"github.com/thingpilot/lorawan-node/internal/framelog"
	"github.com/thingpilot/lorawan-node/internal/logging"
	"github.com/thingpilot/lorawan-node/internal/reset"
	"github.com/thingpilot/lorawan-node/internal/router"
)

// maxPendingDownlinks is the number of downlinks kept for Receive.
const maxPendingDownlinks = 8

// State defines the session state.
type State int

// Session states.
const (
	Disconnected State = iota
	Joining
	Connected
	Sleeping
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case Disconnected:
		return "DISCONNECTED"
	case Joining:
		return "JOINING"
	case Connected:
		return "CONNECTED"
	case Sleeping:
		return "SLEEPING"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ClockSyncConfig holds the clock synchronization configuration.
type ClockSyncConfig struct {
	Attempts      int
	RetryInterval time.Duration
	Skew          time.Duration
}

// Config holds the session configuration.
type Config struct {
	DevEUI     lorawan.EUI64
	Activation mac.ConnectParams
	ADR        bool

	JoinAttempts      int
	JoinRetryInterval time.Duration
	JoinTimeout       time.Duration

	SendAttempts      int
	SendRetryInterval time.Duration
	TXTimeout         time.Duration
	RXTimeout         time.Duration
	ConfirmedUplinks  bool

	EventQueueSize int

	ClockSync ClockSyncConfig
}

func (c Config) withDefaults() Config {
	if c.JoinAttempts <= 0 {
		c.JoinAttempts = 5
	}
	if c.JoinTimeout <= 0 {
		c.JoinTimeout = 30 * time.Second
	}
	if c.SendAttempts <= 0 {
		c.SendAttempts = 3
	}
	if c.TXTimeout <= 0 {
		c.TXTimeout = 30 * time.Second
	}
	if c.RXTimeout <= 0 {
		c.RXTimeout = 10 * time.Second
	}
	if c.ClockSync.Attempts <= 0 {
		c.ClockSync.Attempts = 3
	}
	if c.ClockSync.Skew == 0 {
		c.ClockSync.Skew = clock.DefaultSkew
	}
	return c
}

// FrameLogger logs uplink and downlink frames.
type FrameLogger interface {
	LogFrame(ctx context.Context, f framelog.Frame) error
}

// Session is the session controller of a single device radio. At most one
// operation is outstanding at a time, a second one fails with ErrBusy.
type Session struct {
	mu             sync.Mutex
	state          State
	busy           bool
	class          mac.DeviceClass
	retryCount     int
	uplinkRequired bool

	// downlinks received while waiting for a clock-sync reply
	pending []router.DownlinkMessage

	conf        Config
	stack       mac.Stack
	radio       mac.Radio
	bridge      *dispatch.Bridge
	clock       clock.Clock
	restarter   reset.Restarter
	frameLogger FrameLogger

	// receive scratch buffer
	buf [router.MaxPayloadSize]byte
}

// New creates a new Session in the Disconnected state.
func New(conf Config, stack mac.Stack, radio mac.Radio, clk clock.Clock, restarter reset.Restarter) *Session {
	conf = conf.withDefaults()

	s := &Session{
		state:     Disconnected,
		conf:      conf,
		stack:     stack,
		radio:     radio,
		bridge:    dispatch.NewBridge(conf.EventQueueSize),
		clock:     clk,
		restarter: restarter,
	}
	s.bridge.SetObserver(s.observe)
	s.bridge.SetRetained(dispatch.RXEvents)

	return s
}

// SetFrameLogger sets the frame logger.
func (s *Session) SetFrameLogger(l FrameLogger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frameLogger = l
}

// State returns the session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// RetryCount returns the number of connect retries of the last join.
func (s *Session) RetryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retryCount
}

// Class returns the device class of the session.
func (s *Session) Class() mac.DeviceClass {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.class
}

// UplinkRequired returns true when the MAC stack requested an uplink since
// the last successful send.
func (s *Session) UplinkRequired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uplinkRequired
}

// Join initializes the MAC stack and establishes the session using the
// configured activation. It blocks until the session is connected or the
// join attempts are exhausted.
func (s *Session) Join(ctx context.Context, class mac.DeviceClass) error {
	ctx = logging.NewContext(ctx)

	if err := s.begin("join", Disconnected); err != nil {
		operationCounter("join", err).Inc()
		return err
	}
	defer s.end()

	err := s.join(ctx, class)
	operationCounter("join", err).Inc()
	return err
}

func (s *Session) join(ctx context.Context, class mac.DeviceClass) error {
	if class == mac.ClassB {
		return errors.Wrap(ErrParameterInvalid, "class B is not supported")
	}
	if err := s.conf.Activation.Validate(); err != nil {
		return errors.Wrap(ErrParameterInvalid, err.Error())
	}

	s.mu.Lock()
	s.state = Joining
	s.retryCount = 0
	s.class = class
	s.mu.Unlock()

	logFields := logging.Fields(ctx)
	logFields["dev_eui"] = s.conf.DevEUI
	logFields["activation"] = s.conf.Activation.Activation
	logFields["class"] = class

	if st := s.stack.Initialize(s.bridge); st != mac.StatusOK {
		s.setState(Disconnected)
		return statusErr(st, ErrNotInitialized)
	}
	if st := s.stack.SetDeviceClass(class); st != mac.StatusOK {
		s.setState(Disconnected)
		return statusErr(st, ErrParameterInvalid)
	}
	if s.conf.ADR {
		if st := s.stack.EnableAdaptiveDatarate(); st != mac.StatusOK {
			s.setState(Disconnected)
			return statusErr(st, ErrParameterInvalid)
		}
	}

	var lastErr error
	for attempt := 0; attempt < s.conf.JoinAttempts; attempt++ {
		if attempt > 0 {
			s.mu.Lock()
			s.retryCount++
			s.mu.Unlock()

			if err := sleepContext(ctx, s.conf.JoinRetryInterval); err != nil {
				lastErr = contextErr(err)
				break
			}
		}

		joinAttemptCounter().Inc()
		st := s.stack.Connect(s.conf.Activation)

		switch {
		case st == mac.StatusAlreadyConnected:
			s.setState(Connected)
			log.WithFields(logFields).Info("session: already connected")
			return nil
		case st == mac.StatusOK || st == mac.StatusConnectInProgress:
		case st.Transient():
			lastErr = statusErr(st, ErrJoinFailure)
			log.WithFields(logFields).WithField("status", st).Warning("session: connect attempt failed, retrying")
			continue
		default:
			s.setState(Disconnected)
			return statusErr(st, ErrJoinFailure)
		}

		e, err := s.wait(ctx, dispatch.JoinScope, s.conf.JoinTimeout)
		if err != nil {
			if ctx.Err() != nil {
				lastErr = contextErr(ctx.Err())
				break
			}
			lastErr = errors.Wrap(ErrJoinFailure, "join timeout")
			log.WithFields(logFields).Warning("session: join timeout, retrying")
			continue
		}

		if e == mac.Connected {
			s.setState(Connected)
			log.WithFields(logFields).WithField("retry_count", s.RetryCount()).Info("session: connected")
			return nil
		}

		lastErr = eventErr(e, ErrJoinFailure)
		log.WithFields(logFields).WithField("event", e.Name()).Warning("session: join attempt failed, retrying")
	}

	s.setState(Disconnected)
	log.WithFields(logFields).WithError(lastErr).Error("session: join failed")
	return lastErr
}

// Send sends the payload on the given application port (1 - 219). It blocks
// until the MAC stack reports the result of the transmission and returns the
// number of bytes sent.
func (s *Session) Send(ctx context.Context, port uint8, payload []byte) (int, error) {
	if !router.ApplicationPort(port) {
		err := errors.Wrapf(ErrPortInvalid, "port %d", port)
		operationCounter("send", err).Inc()
		return 0, err
	}

	ctx = logging.NewContext(ctx)

	if err := s.begin("send", Connected); err != nil {
		operationCounter("send", err).Inc()
		return 0, err
	}
	defer s.end()

	n, err := s.transmit(ctx, port, payload)
	operationCounter("send", err).Inc()
	return n, err
}

func (s *Session) transmit(ctx context.Context, port uint8, payload []byte) (int, error) {
	flags := mac.MsgUnconfirmed
	if s.conf.ConfirmedUplinks {
		flags = mac.MsgConfirmed
	}

	logFields := logging.Fields(ctx)
	logFields["f_port"] = port
	logFields["size"] = len(payload)

	var lastErr error
	for attempt := 0; attempt < s.conf.SendAttempts; attempt++ {
		if attempt > 0 {
			if err := sleepContext(ctx, s.conf.SendRetryInterval); err != nil {
				return 0, contextErr(err)
			}
		}

		n, st := s.stack.Send(port, payload, flags)
		if st != mac.StatusOK {
			err := statusErr(st, ErrTx)
			if st.Transient() {
				lastErr = err
				log.WithFields(logFields).WithField("status", st).Debug("session: send would block, retrying")
				continue
			}
			if errors.Is(err, ErrNoActiveSession) {
				s.setState(Disconnected)
			}
			return 0, err
		}

		e, err := s.wait(ctx, dispatch.TXScope, s.conf.TXTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return 0, contextErr(ctx.Err())
			}
			return 0, eventErr(mac.TXTimeout, ErrTx)
		}

		switch e {
		case mac.TXDone:
			s.mu.Lock()
			s.uplinkRequired = false
			s.mu.Unlock()

			s.logFrame(ctx, framelog.Frame{
				Direction: framelog.Uplink,
				Port:      port,
				Payload:   payload,
				Flags:     flags,
				Status:    n,
			})
			log.WithFields(logFields).Info("session: uplink sent")
			return n, nil
		case mac.Disconnected:
			s.setState(Disconnected)
			return 0, errors.Wrap(ErrNoActiveSession, "disconnected during transmit")
		default:
			log.WithFields(logFields).WithField("event", e.Name()).Error("session: transmit failed")
			return 0, eventErr(e, ErrTx)
		}
	}

	return 0, lastErr
}

// Receive waits for a downlink and returns it decoded. A message with
// Status 0 means that there was nothing to read. A downlink on the reset
// port restarts the device and Receive does not return. A downlink on the
// clock-sync port is applied to the clock.
func (s *Session) Receive(ctx context.Context) (router.DownlinkMessage, error) {
	ctx = logging.NewContext(ctx)

	if err := s.begin("receive", Connected); err != nil {
		operationCounter("receive", err).Inc()
		return router.DownlinkMessage{}, err
	}
	defer s.end()

	if msg, ok := s.popPending(); ok {
		log.WithFields(logging.Fields(ctx)).WithFields(log.Fields{
			"f_port":   msg.Port,
			"category": msg.Category,
		}).Debug("session: returning pending downlink")
		operationCounter("receive", nil).Inc()
		return msg, nil
	}

	msg, _, err := s.receive(ctx)
	operationCounter("receive", err).Inc()
	return msg, err
}

// PendingDownlinks returns the number of downlinks kept for Receive.
func (s *Session) PendingDownlinks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *Session) pushPending(msg router.DownlinkMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) == maxPendingDownlinks {
		log.WithField("f_port", s.pending[0].Port).Warning("session: pending downlinks full, dropping oldest")
		s.pending = s.pending[1:]
	}
	s.pending = append(s.pending, msg)
}

func (s *Session) popPending() (router.DownlinkMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) == 0 {
		return router.DownlinkMessage{}, false
	}
	msg := s.pending[0]
	s.pending = s.pending[1:]
	return msg, true
}

// receive returns the received message and true when it was applied to
// the clock.
func (s *Session) receive(ctx context.Context) (router.DownlinkMessage, bool, error) {
	e, err := s.wait(ctx, dispatch.RXScope, s.conf.RXTimeout)
	if err != nil {
		if ctx.Err() != nil {
			return router.DownlinkMessage{}, false, contextErr(ctx.Err())
		}
		// the stack might still hold data
	} else {
		switch e {
		case mac.RXError:
			return router.DownlinkMessage{}, false, eventErr(e, ErrRx)
		case mac.Disconnected:
			s.setState(Disconnected)
			return router.DownlinkMessage{}, false, errors.Wrap(ErrNoActiveSession, "disconnected during receive")
		}
	}

	defer s.clearBuffer()

	port, n, flags, st := s.stack.Receive(s.buf[:])
	if st == mac.StatusWouldBlock {
		return router.DownlinkMessage{}, false, nil
	}
	if st != mac.StatusOK {
		return router.DownlinkMessage{}, false, statusErr(st, ErrRx)
	}
	if n == 0 {
		return router.DownlinkMessage{Port: port, Flags: flags}, false, nil
	}
	if n < 0 || n > len(s.buf) {
		return router.DownlinkMessage{}, false, errors.Wrapf(ErrParameterInvalid, "byte count %d exceeds buffer", n)
	}

	msg, err := router.Decode(port, s.buf[:n])
	if err != nil {
		if errors.Is(err, router.ErrInvalidPort) {
			return router.DownlinkMessage{}, false, errors.Wrap(ErrPortInvalid, err.Error())
		}
		return router.DownlinkMessage{}, false, errors.Wrap(ErrParameterInvalid, err.Error())
	}
	msg.Flags = flags

	logFields := logging.Fields(ctx)
	logFields["f_port"] = msg.Port
	logFields["category"] = msg.Category
	logFields["size"] = msg.Status

	s.logFrame(ctx, framelog.Frame{
		Direction: framelog.Downlink,
		Port:      msg.Port,
		Payload:   msg.Payload,
		Flags:     msg.Flags,
		Status:    msg.Status,
	})
	log.WithFields(logFields).Info("session: downlink received")

	switch msg.Category {
	case router.Reset:
		log.WithFields(logFields).Warning("session: reset command received, restarting device")
		s.clearBuffer()
		s.restarter.Restart()
		return msg, false, errors.Wrap(ErrDeviceReset, "restart returned")
	case router.ClockSync:
		epoch, _ := msg.Epoch()
		applied, err := clock.Apply(s.clock, epoch, s.conf.ClockSync.Skew)
		if err != nil {
			log.WithFields(logFields).WithError(err).Error("session: apply clock-sync error")
			return msg, false, nil
		}
		if applied {
			clockSyncCounter().Inc()
		}
		return msg, applied, nil
	}

	return msg, false, nil
}

// Sleep powers down the radio and closes the MAC session. It returns nil
// when the MAC stack reports the device is off and an error matching
// ErrDeviceOff otherwise. Calling Sleep on a sleeping session returns
// ErrDeviceOff without touching the MAC stack.
func (s *Session) Sleep(ctx context.Context) error {
	ctx = logging.NewContext(ctx)

	if err := s.begin("sleep", Connected, Sleeping); err != nil {
		operationCounter("sleep", err).Inc()
		return err
	}
	defer s.end()

	if s.State() == Sleeping {
		err := &StatusError{Err: ErrDeviceOff, Status: mac.StatusDeviceOff}
		operationCounter("sleep", err).Inc()
		return err
	}

	logFields := logging.Fields(ctx)

	if err := s.radio.Sleep(); err != nil {
		log.WithFields(logFields).WithError(err).Warning("session: radio sleep error")
	}
	st := s.stack.Disconnect()
	s.setState(Sleeping)

	if st != mac.StatusDeviceOff {
		err := &StatusError{Err: ErrDeviceOff, Status: st}
		log.WithFields(logFields).WithField("status", st).Warning("session: disconnect did not report device off")
		operationCounter("sleep", err).Inc()
		return err
	}

	log.WithFields(logFields).Info("session: sleeping")
	operationCounter("sleep", nil).Inc()
	return nil
}

// Wake puts the radio in standby and moves the session from Sleeping back
// to Disconnected. A new Join is needed before sending.
func (s *Session) Wake(ctx context.Context) error {
	ctx = logging.NewContext(ctx)

	if err := s.begin("wake", Sleeping); err != nil {
		operationCounter("wake", err).Inc()
		return err
	}
	defer s.end()

	if err := s.radio.Standby(); err != nil {
		err = errors.Wrap(err, "radio standby error")
		operationCounter("wake", err).Inc()
		return err
	}

	s.setState(Disconnected)
	log.WithFields(logging.Fields(ctx)).Info("session: awake")
	operationCounter("wake", nil).Inc()
	return nil
}

// begin marks the start of an operation. It fails when another operation
// is outstanding or when the current state is not one of the given states.
func (s *Session) begin(op string, states ...State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.busy {
		return errors.Wrapf(ErrBusy, "%s", op)
	}

	// pending rx events are kept for receive
	if op != "receive" {
		for _, e := range s.bridge.Drain() {
			s.handleStaleEvent(e)
		}
	}

	for _, st := range states {
		if s.state == st {
			s.busy = true
			return nil
		}
	}

	err := &StateError{Op: op, State: s.state, Err: ErrStateMismatch}
	if op == "send" || op == "receive" || op == "clock_sync" {
		switch s.state {
		case Disconnected:
			err.Err = ErrNotInitialized
		case Sleeping:
			err.Err = ErrNoActiveSession
		}
	}
	return err
}

func (s *Session) end() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
}

func (s *Session) wait(ctx context.Context, scope dispatch.Scope, timeout time.Duration) (mac.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.bridge.Wait(ctx, scope)
}

// observe handles the events which are received while waiting for an
// event outside their scope.
func (s *Session) observe(e mac.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handleStaleEvent(e)
}

// handleStaleEvent must be called with mu held.
func (s *Session) handleStaleEvent(e mac.Event) {
	switch e {
	case mac.UplinkRequired, mac.AutomaticUplinkError:
		s.uplinkRequired = true
		log.WithField("event", e.Name()).Info("session: uplink required by mac stack")
	case mac.Disconnected:
		if s.state == Connected {
			s.state = Disconnected
			log.Warning("session: mac stack disconnected")
		}
	default:
		log.WithField("event", e.Name()).Debug("session: ignoring event")
	}
}

func (s *Session) clearBuffer() {
	for i := range s.buf {
		s.buf[i] = 0
	}
}

func (s *Session) logFrame(ctx context.Context, f framelog.Frame) {
	s.mu.Lock()
	l := s.frameLogger
	s.mu.Unlock()

	if l == nil {
		return
	}

	f.DevEUI = s.conf.DevEUI
	f.Time = s.clock.Now()
	if err := l.LogFrame(ctx, f); err != nil {
		log.WithError(err).WithFields(logging.Fields(ctx)).Error("session: log frame error")
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func contextErr(err error) error {
	return errors.Wrap(ErrWouldBlock, err.Error())
}
