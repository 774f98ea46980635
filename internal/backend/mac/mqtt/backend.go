// Package mqtt implements the MAC stack transport using MQTT.
package mqtt

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"io/ioutil"
	"sync"
	"text/template"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/brocaar/lorawan"

	"github.com/thingpilot/lorawan-node/internal/backend/mac/marshaler"
	"github.com/thingpilot/lorawan-node/internal/config"
)

// Backend implements a MQTT transport for the MAC stack.
type Backend struct {
	sync.RWMutex

	wg sync.WaitGroup

	devEUI          lorawan.EUI64
	qos             uint8
	eventTopic      string
	commandTemplate *template.Template

	connectAttempts      int
	connectRetryInterval time.Duration

	opts    *paho.ClientOptions
	conn    paho.Client
	deliver func(eventType string, body []byte)
}

// NewBackend creates a new Backend.
func NewBackend(c config.Config) (*Backend, error) {
	var err error
	conf := c.Backend.MQTT

	b := Backend{
		devEUI:               c.Device.DevEUI,
		qos:                  conf.QOS,
		connectAttempts:      conf.ConnectAttempts,
		connectRetryInterval: conf.ConnectRetryInterval,
	}
	if b.connectAttempts <= 0 {
		b.connectAttempts = 1
	}

	b.commandTemplate, err = template.New("command").Parse(conf.CommandTopicTemplate)
	if err != nil {
		return nil, errors.Wrap(err, "mac/mqtt: parse command topic template error")
	}

	eventTemplate, err := template.New("event").Parse(conf.EventTopicTemplate)
	if err != nil {
		return nil, errors.Wrap(err, "mac/mqtt: parse event topic template error")
	}
	topic := bytes.NewBuffer(nil)
	if err := eventTemplate.Execute(topic, struct{ DevEUI lorawan.EUI64 }{b.devEUI}); err != nil {
		return nil, errors.Wrap(err, "mac/mqtt: execute event topic template error")
	}
	b.eventTopic = topic.String()

	b.opts = paho.NewClientOptions()
	b.opts.AddBroker(conf.Server)
	b.opts.SetUsername(conf.Username)
	b.opts.SetPassword(conf.Password)
	b.opts.SetCleanSession(conf.CleanSession)
	b.opts.SetClientID(conf.ClientID)
	b.opts.SetOnConnectHandler(b.onConnected)
	b.opts.SetConnectionLostHandler(b.onConnectionLost)
	if conf.MaxReconnectInterval != 0 {
		b.opts.SetMaxReconnectInterval(conf.MaxReconnectInterval)
	}
	if conf.ConnectTimeout != 0 {
		b.opts.SetConnectTimeout(conf.ConnectTimeout)
	}

	tlsconfig, err := newTLSConfig(conf.CACert, conf.TLSCert, conf.TLSKey)
	if err != nil {
		return nil, errors.Wrap(err, "mac/mqtt: load tls configuration error")
	}
	if tlsconfig != nil {
		b.opts.SetTLSConfig(tlsconfig)
	}

	return &b, nil
}

// Open connects to the MQTT broker and subscribes to the event topic. The
// connect is retried up to the configured number of attempts, after which
// the last connect error is returned.
func (b *Backend) Open(deliver func(eventType string, body []byte)) error {
	conn := paho.NewClient(b.opts)

	b.Lock()
	b.deliver = deliver
	b.Unlock()

	log.WithField("server", b.opts.Servers).Info("mac/mqtt: connecting to mqtt broker")

	var err error
	for attempt := 0; attempt < b.connectAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(b.connectRetryInterval)
		}

		token := conn.Connect()
		token.Wait()
		if err = token.Error(); err == nil {
			break
		}

		log.WithFields(log.Fields{
			"attempt": attempt + 1,
		}).Errorf("mac/mqtt: connecting to mqtt broker failed: %s", err)
	}
	if err != nil {
		return errors.Wrap(err, "mac/mqtt: connect to mqtt broker error")
	}

	b.Lock()
	b.conn = conn
	b.Unlock()

	return nil
}

// Publish publishes the given command.
func (b *Backend) Publish(command string, body []byte) error {
	topic, err := b.commandTopic(command)
	if err != nil {
		return err
	}

	b.RLock()
	conn := b.conn
	b.RUnlock()
	if conn == nil {
		return errors.New("mac/mqtt: backend is not connected")
	}

	log.WithFields(log.Fields{
		"topic":   topic,
		"qos":     b.qos,
		"command": command,
	}).Info("mac/mqtt: publishing command")

	mqttCommandCounter(command).Inc()

	if token := conn.Publish(topic, b.qos, false, body); token.Wait() && token.Error() != nil {
		return errors.Wrap(token.Error(), "mac/mqtt: publish command error")
	}
	return nil
}

// Close unsubscribes from the event topic and closes the connection.
func (b *Backend) Close() error {
	b.Lock()
	conn := b.conn
	b.conn = nil
	b.Unlock()

	if conn == nil {
		return nil
	}

	log.Info("mac/mqtt: closing backend")

	log.WithField("topic", b.eventTopic).Info("mac/mqtt: unsubscribing from event topic")
	if token := conn.Unsubscribe(b.eventTopic); token.Wait() && token.Error() != nil {
		return errors.Wrapf(token.Error(), "mac/mqtt: unsubscribe from %s error", b.eventTopic)
	}

	log.Info("mac/mqtt: handling last events")
	b.wg.Wait()
	conn.Disconnect(250)
	return nil
}

func (b *Backend) commandTopic(command string) (string, error) {
	topic := bytes.NewBuffer(nil)
	if err := b.commandTemplate.Execute(topic, struct {
		DevEUI      lorawan.EUI64
		CommandType string
	}{b.devEUI, command}); err != nil {
		return "", errors.Wrap(err, "mac/mqtt: execute command topic template error")
	}
	return topic.String(), nil
}

func (b *Backend) eventHandler(c paho.Client, msg paho.Message) {
	b.wg.Add(1)
	defer b.wg.Done()

	typ := marshaler.EventType(msg.Topic())
	mqttEventCounter(typ).Inc()

	log.WithFields(log.Fields{
		"topic": msg.Topic(),
		"event": typ,
	}).Info("mac/mqtt: event received")

	b.RLock()
	deliver := b.deliver
	b.RUnlock()

	if deliver == nil {
		log.WithFields(log.Fields{
			"data_base64": base64.StdEncoding.EncodeToString(msg.Payload()),
		}).Warning("mac/mqtt: backend is not opened, dropping event")
		return
	}

	deliver(typ, msg.Payload())
}

func (b *Backend) onConnected(c paho.Client) {
	mqttConnectCounter().Inc()
	log.Info("mac/mqtt: connected to mqtt broker")

	for {
		log.WithFields(log.Fields{
			"topic": b.eventTopic,
			"qos":   b.qos,
		}).Info("mac/mqtt: subscribing to event topic")
		if token := c.Subscribe(b.eventTopic, b.qos, b.eventHandler); token.Wait() && token.Error() != nil {
			log.WithFields(log.Fields{
				"topic": b.eventTopic,
				"qos":   b.qos,
			}).Errorf("mac/mqtt: subscribe error: %s", token.Error())
			time.Sleep(time.Second)
			continue
		}
		break
	}
}

func (b *Backend) onConnectionLost(c paho.Client, reason error) {
	mqttDisconnectCounter().Inc()
	log.Errorf("mac/mqtt: mqtt connection error: %s", reason)
}

func newTLSConfig(cafile, certFile, certKeyFile string) (*tls.Config, error) {
	if cafile == "" && certFile == "" && certKeyFile == "" {
		return nil, nil
	}

	tlsConfig := &tls.Config{}

	if cafile != "" {
		cacert, err := ioutil.ReadFile(cafile)
		if err != nil {
			return nil, errors.Wrap(err, "load ca certificate error")
		}
		certpool := x509.NewCertPool()
		certpool.AppendCertsFromPEM(cacert)

		tlsConfig.RootCAs = certpool
	}

	if certFile != "" && certKeyFile != "" {
		kp, err := tls.LoadX509KeyPair(certFile, certKeyFile)
		if err != nil {
			return nil, errors.Wrap(err, "load tls key-pair error")
		}
		tlsConfig.Certificates = []tls.Certificate{kp}
	}

	return tlsConfig, nil
}
