// Package bridge implements the mac.Backend interface on top of a MAC stack
// which is reachable through a message transport (e.g. a modem daemon
// connected over MQTT or AMQP). Commands are published to the transport,
// events received from the transport are forwarded to the event handler.
package bridge

import (
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/thingpilot/lorawan-node/internal/backend/mac"
	"github.com/thingpilot/lorawan-node/internal/backend/mac/marshaler"
)

// MaxPayloadSize defines the max. application payload size accepted by the
// remote MAC stack.
const MaxPayloadSize = 242

// maxPending defines the max. number of received downlinks kept until read.
const maxPending = 8

// Transport defines the interface of the message transport.
type Transport interface {
	// Open opens the transport. The given func is called for every received
	// event.
	Open(deliver func(eventType string, body []byte)) error

	// Publish publishes the given command.
	Publish(command string, body []byte) error

	// Close closes the transport.
	Close() error
}

// Core implements mac.Backend over a Transport.
type Core struct {
	mu        sync.Mutex
	transport Transport
	handler   mac.EventHandler
	opened    bool
	asleep    bool
	pending   []marshaler.RXEvent
}

// New creates a new Core.
func New(t Transport) *Core {
	return &Core{
		transport: t,
	}
}

// Initialize opens the transport and registers the event handler.
func (c *Core) Initialize(h mac.EventHandler) mac.Status {
	c.mu.Lock()
	c.handler = h
	opened := c.opened
	c.mu.Unlock()

	if opened {
		return mac.StatusOK
	}

	if err := c.transport.Open(c.deliver); err != nil {
		log.WithError(err).Error("mac/bridge: open transport error")
		return mac.StatusNotInitialized
	}

	c.mu.Lock()
	c.opened = true
	c.mu.Unlock()

	return mac.StatusOK
}

// Connect publishes the connect command. For OTAA the join is in progress
// until the connected or join_failure event is received.
func (c *Core) Connect(p mac.ConnectParams) mac.Status {
	if err := p.Validate(); err != nil {
		log.WithError(err).Error("mac/bridge: invalid connect parameters")
		return mac.StatusParameterInvalid
	}

	if st := c.publish(marshaler.CommandConnect, marshaler.NewConnectCommand(p)); st != mac.StatusOK {
		return st
	}

	if p.Activation == mac.ActivationOTAA {
		return mac.StatusConnectInProgress
	}
	return mac.StatusOK
}

// SetDeviceClass publishes the class command.
func (c *Core) SetDeviceClass(class mac.DeviceClass) mac.Status {
	return c.publish(marshaler.CommandClass, marshaler.ClassCommand{Class: class})
}

// EnableAdaptiveDatarate publishes the adr command.
func (c *Core) EnableAdaptiveDatarate() mac.Status {
	return c.publish(marshaler.CommandADR, marshaler.ADRCommand{Enabled: true})
}

// Disconnect publishes the disconnect command and drops the pending
// downlinks.
func (c *Core) Disconnect() mac.Status {
	if st := c.publish(marshaler.CommandDisconnect, marshaler.DisconnectCommand{}); st != mac.StatusOK {
		return st
	}

	c.mu.Lock()
	c.pending = nil
	c.mu.Unlock()

	return mac.StatusDeviceOff
}

// Send publishes the uplink command.
func (c *Core) Send(port uint8, payload []byte, flags mac.Flags) (int, mac.Status) {
	if len(payload) > MaxPayloadSize {
		return 0, mac.StatusLengthError
	}

	st := c.publish(marshaler.CommandUplink, marshaler.UplinkCommand{
		FPort: port,
		Data:  payload,
		Flags: flags,
	})
	if st != mac.StatusOK {
		return 0, st
	}
	return len(payload), mac.StatusOK
}

// Receive copies the oldest pending downlink into buf.
func (c *Core) Receive(buf []byte) (uint8, int, mac.Flags, mac.Status) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.pending) == 0 {
		return 0, 0, 0, mac.StatusWouldBlock
	}

	rx := c.pending[0]
	if len(rx.Data) > len(buf) {
		return 0, 0, 0, mac.StatusLengthError
	}
	c.pending = c.pending[1:]

	n := copy(buf, rx.Data)
	return rx.FPort, n, rx.Flags, mac.StatusOK
}

// Sleep puts the radio into sleep mode. Downlinks received while asleep are
// dropped.
func (c *Core) Sleep() error {
	if err := c.publishRadio(marshaler.RadioSleep); err != nil {
		return err
	}

	c.mu.Lock()
	c.asleep = true
	c.mu.Unlock()
	return nil
}

// Standby puts the radio into standby mode.
func (c *Core) Standby() error {
	if err := c.publishRadio(marshaler.RadioStandby); err != nil {
		return err
	}

	c.mu.Lock()
	c.asleep = false
	c.mu.Unlock()
	return nil
}

// Close closes the transport.
func (c *Core) Close() error {
	c.mu.Lock()
	c.opened = false
	c.mu.Unlock()

	return c.transport.Close()
}

func (c *Core) publishRadio(mode string) error {
	b, err := marshaler.MarshalCommand(marshaler.RadioCommand{Mode: mode})
	if err != nil {
		return err
	}
	if err := c.transport.Publish(marshaler.CommandRadio, b); err != nil {
		return errors.Wrap(err, "publish radio command error")
	}
	return nil
}

func (c *Core) publish(command string, v interface{}) mac.Status {
	c.mu.Lock()
	opened := c.opened
	c.mu.Unlock()

	if !opened {
		return mac.StatusNotInitialized
	}

	b, err := marshaler.MarshalCommand(v)
	if err != nil {
		log.WithError(err).WithField("command", command).Error("mac/bridge: marshal command error")
		return mac.StatusParameterInvalid
	}

	if err := c.transport.Publish(command, b); err != nil {
		log.WithError(err).WithField("command", command).Error("mac/bridge: publish command error")
		return mac.StatusWouldBlock
	}

	return mac.StatusOK
}

func (c *Core) deliver(eventType string, body []byte) {
	if eventType == marshaler.EventRX {
		c.deliverRX(body)
		return
	}

	e, ok := mac.ParseEvent(eventType)
	if !ok {
		log.WithField("event", eventType).Warning("mac/bridge: unexpected event type")
		return
	}

	if e == mac.Disconnected {
		c.mu.Lock()
		c.pending = nil
		c.mu.Unlock()
	}

	c.post(e)
}

func (c *Core) deliverRX(body []byte) {
	rx, err := marshaler.UnmarshalRXEvent(body)
	if err != nil {
		log.WithError(err).Error("mac/bridge: unmarshal rx event error")
		return
	}

	c.mu.Lock()
	if c.asleep {
		c.mu.Unlock()
		log.WithField("f_port", rx.FPort).Warning("mac/bridge: radio is asleep, dropping downlink")
		return
	}
	if len(c.pending) >= maxPending {
		c.pending = c.pending[1:]
	}
	c.pending = append(c.pending, rx)
	c.mu.Unlock()

	log.WithFields(log.Fields{
		"f_port": rx.FPort,
		"size":   len(rx.Data),
	}).Info("mac/bridge: downlink received")

	c.post(mac.RXDone)
}

func (c *Core) post(e mac.Event) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()

	if h == nil {
		return
	}
	h.HandleEvent(e)
}
