package amqp

import (
	"os"
	"sync"
	"testing"
	"time"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/thingpilot/lorawan-node/internal/backend/mac/marshaler"
	"github.com/thingpilot/lorawan-node/internal/test"
)

type event struct {
	Type string
	Body []byte
}

func TestRoutingKeys(t *testing.T) {
	assert := require.New(t)

	b, err := NewBackend(test.GetConfig())
	assert.NoError(err)
	assert.Equal("device.0102030405060708.event.*", b.eventRoutingKey)

	key, err := b.commandRoutingKeyFor(marshaler.CommandConnect)
	assert.NoError(err)
	assert.Equal("device.0102030405060708.command.connect", key)

	assert.Error(b.Publish(marshaler.CommandConnect, nil))
	assert.NoError(b.Close())
}

func TestHandleEvent(t *testing.T) {
	assert := require.New(t)

	b, err := NewBackend(test.GetConfig())
	assert.NoError(err)

	var events []event
	b.deliver = func(typ string, body []byte) {
		events = append(events, event{Type: typ, Body: body})
	}
	b.handleEvent("device.0102030405060708.event.join_failure", nil)
	b.handleEvent("device.0102030405060708.event.rx", []byte(`{}`))

	assert.Equal([]event{
		{Type: "join_failure"},
		{Type: "rx", Body: []byte(`{}`)},
	}, events)
}

type BackendTestSuite struct {
	suite.Suite

	backend *Backend

	amqpConn        *amqp.Connection
	amqpChannel     *amqp.Channel
	amqpCommandChan <-chan amqp.Delivery

	mu     sync.Mutex
	events []event
}

func (ts *BackendTestSuite) SetupSuite() {
	if os.Getenv("TEST_RABBITMQ_URL") == "" {
		ts.T().Skip("TEST_RABBITMQ_URL is not set")
	}

	var err error
	assert := require.New(ts.T())
	conf := test.GetConfig()

	ts.backend, err = NewBackend(conf)
	assert.NoError(err)
	assert.NoError(ts.backend.Open(func(typ string, body []byte) {
		ts.mu.Lock()
		defer ts.mu.Unlock()
		ts.events = append(ts.events, event{Type: typ, Body: body})
	}))

	ts.amqpConn, err = amqp.Dial(conf.Backend.AMQP.URL)
	assert.NoError(err)

	ts.amqpChannel, err = ts.amqpConn.Channel()
	assert.NoError(err)

	_, err = ts.amqpChannel.QueueDeclare(
		"test-command-queue",
		true,
		false,
		false,
		false,
		nil,
	)
	assert.NoError(err)

	err = ts.amqpChannel.QueueBind(
		"test-command-queue",
		"device.*.command.*",
		"amq.topic",
		false,
		nil,
	)
	assert.NoError(err)

	ts.amqpCommandChan, err = ts.amqpChannel.Consume(
		"test-command-queue",
		"",
		true,
		false,
		false,
		false,
		nil,
	)
	assert.NoError(err)
}

func (ts *BackendTestSuite) TearDownSuite() {
	if ts.backend != nil {
		ts.Require().NoError(ts.backend.Close())
	}
	if ts.amqpConn != nil {
		ts.amqpConn.Close()
	}
}

func (ts *BackendTestSuite) TestPublish() {
	assert := require.New(ts.T())

	assert.NoError(ts.backend.Publish(marshaler.CommandUplink, []byte(`{"fPort":1}`)))

	select {
	case cmd := <-ts.amqpCommandChan:
		assert.Equal("device.0102030405060708.command.up", cmd.RoutingKey)
		assert.Equal("application/json", cmd.ContentType)
		assert.Equal([]byte(`{"fPort":1}`), cmd.Body)
	case <-time.After(5 * time.Second):
		ts.T().Fatal("timeout waiting for command")
	}
}

func (ts *BackendTestSuite) TestEvent() {
	assert := require.New(ts.T())

	err := ts.amqpChannel.Publish(
		"amq.topic",
		"device.0102030405060708.event.connected",
		false,
		false,
		amqp.Publishing{Body: []byte{}},
	)
	assert.NoError(err)

	assert.Eventually(func() bool {
		ts.mu.Lock()
		defer ts.mu.Unlock()
		for _, e := range ts.events {
			if e.Type == "connected" {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)
}

func TestBackend(t *testing.T) {
	suite.Run(t, new(BackendTestSuite))
}
