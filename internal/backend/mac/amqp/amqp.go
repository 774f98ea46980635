// Package amqp implements the MAC stack transport using AMQP (e.g.
// RabbitMQ). Commands are published to the amq.topic exchange, events are
// consumed from a queue bound to the event routing-key.
package amqp

import (
	"bytes"
	"sync"
	"text/template"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/streadway/amqp"

	"github.com/brocaar/lorawan"

	"github.com/thingpilot/lorawan-node/internal/backend/mac/marshaler"
	"github.com/thingpilot/lorawan-node/internal/config"
)

const (
	exchange = "amq.topic"
	poolSize = 2
)

// Backend implements an AMQP transport for the MAC stack.
type Backend struct {
	url               string
	devEUI            lorawan.EUI64
	eventQueueName    string
	eventRoutingKey   string
	commandRoutingKey *template.Template

	mu       sync.RWMutex
	conn     *amqp.Connection
	channels *channelPool
	deliver  func(eventType string, body []byte)
	done     chan struct{}
}

// NewBackend creates a new Backend.
func NewBackend(c config.Config) (*Backend, error) {
	conf := c.Backend.AMQP

	b := Backend{
		url:            conf.URL,
		devEUI:         c.Device.DevEUI,
		eventQueueName: conf.EventQueueName,
	}

	var err error
	b.commandRoutingKey, err = template.New("command").Parse(conf.CommandRoutingKeyTemplate)
	if err != nil {
		return nil, errors.Wrap(err, "mac/amqp: parse command routing-key template error")
	}

	eventTemplate, err := template.New("event").Parse(conf.EventRoutingKeyTemplate)
	if err != nil {
		return nil, errors.Wrap(err, "mac/amqp: parse event routing-key template error")
	}
	key := bytes.NewBuffer(nil)
	if err := eventTemplate.Execute(key, struct{ DevEUI lorawan.EUI64 }{b.devEUI}); err != nil {
		return nil, errors.Wrap(err, "mac/amqp: execute event routing-key template error")
	}
	b.eventRoutingKey = key.String()

	return &b, nil
}

// Open connects to the AMQP server, declares the event queue and starts
// consuming events.
func (b *Backend) Open(deliver func(eventType string, body []byte)) error {
	log.Info("mac/amqp: connecting to AMQP server")
	conn, err := amqp.Dial(b.url)
	if err != nil {
		return errors.Wrap(err, "mac/amqp: dial amqp url error")
	}

	channels := newChannelPool(conn, poolSize)
	if err := channels.do(b.setupQueue); err != nil {
		channels.close()
		conn.Close()
		return errors.Wrap(err, "mac/amqp: setup queue error")
	}

	done := make(chan struct{})

	b.mu.Lock()
	b.conn = conn
	b.channels = channels
	b.deliver = deliver
	b.done = done
	b.mu.Unlock()

	go b.eventLoop(channels, done)

	return nil
}

// Publish publishes the given command.
func (b *Backend) Publish(command string, body []byte) error {
	b.mu.RLock()
	channels := b.channels
	b.mu.RUnlock()

	if channels == nil {
		return errors.New("mac/amqp: backend is not connected")
	}

	routingKey, err := b.commandRoutingKeyFor(command)
	if err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"command":     command,
		"routing_key": routingKey,
	}).Info("mac/amqp: publishing command")

	amqpCommandCounter(command).Inc()

	err = channels.do(func(ch *amqp.Channel) error {
		return ch.Publish(
			exchange,
			routingKey,
			false,
			false,
			amqp.Publishing{
				ContentType: "application/json",
				Body:        body,
			},
		)
	})
	if err != nil {
		return errors.Wrap(err, "mac/amqp: publish command error")
	}

	return nil
}

// Close closes the connection and waits for the event loop to stop.
func (b *Backend) Close() error {
	b.mu.Lock()
	conn := b.conn
	channels := b.channels
	done := b.done
	b.conn = nil
	b.channels = nil
	b.mu.Unlock()

	if conn == nil {
		return nil
	}

	log.Info("mac/amqp: closing backend")
	channels.close()
	err := conn.Close()
	<-done
	if err != nil && err != amqp.ErrClosed {
		return errors.Wrap(err, "mac/amqp: close connection error")
	}
	return nil
}

func (b *Backend) commandRoutingKeyFor(command string) (string, error) {
	key := bytes.NewBuffer(nil)
	if err := b.commandRoutingKey.Execute(key, struct {
		DevEUI      lorawan.EUI64
		CommandType string
	}{b.devEUI, command}); err != nil {
		return "", errors.Wrap(err, "execute command routing-key template error")
	}
	return key.String(), nil
}

func (b *Backend) setupQueue(ch *amqp.Channel) error {
	_, err := ch.QueueDeclare(
		b.eventQueueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return errors.Wrap(err, "declare queue error")
	}

	err = ch.QueueBind(
		b.eventQueueName,
		b.eventRoutingKey,
		exchange,
		false,
		nil,
	)
	if err != nil {
		return errors.Wrap(err, "bind queue error")
	}

	return nil
}

func (b *Backend) eventLoop(channels *channelPool, done chan struct{}) {
	defer close(done)

	for {
		ch, err := channels.acquire()
		if err == errClosed {
			return
		}
		if err == nil {
			err = b.consume(ch)
			// the delivery channel is closed together with the amqp channel
			channels.release(ch, false)
		}

		b.mu.RLock()
		closed := b.channels != channels
		b.mu.RUnlock()
		if closed {
			return
		}

		if err != nil {
			log.WithError(err).Error("mac/amqp: event loop error")
			time.Sleep(time.Second)
		}
	}
}

func (b *Backend) consume(ch *amqp.Channel) error {
	log.Info("mac/amqp: start consuming mac events")

	msgs, err := ch.Consume(
		b.eventQueueName,
		"",
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return errors.Wrap(err, "register consumer error")
	}

	for msg := range msgs {
		b.handleEvent(msg.RoutingKey, msg.Body)
	}
	return nil
}

func (b *Backend) handleEvent(routingKey string, body []byte) {
	typ := marshaler.EventType(routingKey)
	amqpEventCounter(typ).Inc()

	log.WithFields(log.Fields{
		"routing_key": routingKey,
		"event":       typ,
	}).Info("mac/amqp: event received")

	b.mu.RLock()
	deliver := b.deliver
	b.mu.RUnlock()

	if deliver != nil {
		deliver(typ, body)
	}
}
