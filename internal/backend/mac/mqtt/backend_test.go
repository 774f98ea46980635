package mqtt

import (
	"os"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/thingpilot/lorawan-node/internal/backend/mac"
	"github.com/thingpilot/lorawan-node/internal/backend/mac/bridge"
	"github.com/thingpilot/lorawan-node/internal/backend/mac/marshaler"
	"github.com/thingpilot/lorawan-node/internal/test"
)

type testMessage struct {
	paho.Message

	topic   string
	payload []byte
}

func (m testMessage) Topic() string {
	return m.topic
}

func (m testMessage) Payload() []byte {
	return m.payload
}

type event struct {
	Type string
	Body []byte
}

func TestTopics(t *testing.T) {
	assert := require.New(t)

	b, err := NewBackend(test.GetConfig())
	assert.NoError(err)

	assert.Equal("device/0102030405060708/event/+", b.eventTopic)

	topic, err := b.commandTopic(marshaler.CommandUplink)
	assert.NoError(err)
	assert.Equal("device/0102030405060708/command/up", topic)
}

func TestInvalidTemplate(t *testing.T) {
	assert := require.New(t)

	conf := test.GetConfig()
	conf.Backend.MQTT.CommandTopicTemplate = "device/{{ .DevEUI"
	_, err := NewBackend(conf)
	assert.Error(err)
}

func TestPublishNotOpened(t *testing.T) {
	assert := require.New(t)

	b, err := NewBackend(test.GetConfig())
	assert.NoError(err)
	assert.Error(b.Publish(marshaler.CommandUplink, nil))
	assert.NoError(b.Close())
}

func TestEventHandler(t *testing.T) {
	assert := require.New(t)

	b, err := NewBackend(test.GetConfig())
	assert.NoError(err)

	// not opened
	b.eventHandler(nil, testMessage{topic: "device/0102030405060708/event/connected"})

	var events []event
	b.deliver = func(typ string, body []byte) {
		events = append(events, event{Type: typ, Body: body})
	}

	b.eventHandler(nil, testMessage{topic: "device/0102030405060708/event/connected"})
	b.eventHandler(nil, testMessage{topic: "device/0102030405060708/event/rx", payload: []byte(`{"fPort":1}`)})

	assert.Equal([]event{
		{Type: "connected"},
		{Type: "rx", Body: []byte(`{"fPort":1}`)},
	}, events)
}

type nopHandler struct{}

func (nopHandler) HandleEvent(mac.Event) {}

func TestOpenUnreachableBroker(t *testing.T) {
	assert := require.New(t)

	conf := test.GetConfig()
	conf.Backend.MQTT.Server = "tcp://127.0.0.1:1"
	conf.Backend.MQTT.ConnectAttempts = 2
	conf.Backend.MQTT.ConnectTimeout = time.Second
	conf.Backend.MQTT.ConnectRetryInterval = 10 * time.Millisecond

	b, err := NewBackend(conf)
	assert.NoError(err)

	done := make(chan mac.Status, 1)
	go func() {
		done <- bridge.New(b).Initialize(nopHandler{})
	}()

	select {
	case st := <-done:
		assert.Equal(mac.StatusNotInitialized, st)
	case <-time.After(10 * time.Second):
		t.Fatal("initialize did not return with an unreachable broker")
	}

	assert.Error(b.Publish(marshaler.CommandUplink, nil))
	assert.NoError(b.Close())
}

type BackendTestSuite struct {
	suite.Suite

	backend    *Backend
	mqttClient paho.Client

	mu     sync.Mutex
	events []event
}

func (ts *BackendTestSuite) SetupSuite() {
	if os.Getenv("TEST_MQTT_SERVER") == "" {
		ts.T().Skip("TEST_MQTT_SERVER is not set")
	}

	assert := require.New(ts.T())
	conf := test.GetConfig()

	opts := paho.NewClientOptions().
		AddBroker(conf.Backend.MQTT.Server).
		SetUsername(conf.Backend.MQTT.Username).
		SetPassword(conf.Backend.MQTT.Password)
	ts.mqttClient = paho.NewClient(opts)
	token := ts.mqttClient.Connect()
	token.Wait()
	assert.NoError(token.Error())

	var err error
	ts.backend, err = NewBackend(conf)
	assert.NoError(err)
	assert.NoError(ts.backend.Open(func(typ string, body []byte) {
		ts.mu.Lock()
		defer ts.mu.Unlock()
		ts.events = append(ts.events, event{Type: typ, Body: body})
	}))
}

func (ts *BackendTestSuite) TearDownSuite() {
	if ts.backend != nil {
		ts.Require().NoError(ts.backend.Close())
	}
	if ts.mqttClient != nil {
		ts.mqttClient.Disconnect(0)
	}
}

func (ts *BackendTestSuite) TestPublish() {
	assert := require.New(ts.T())

	cmdChan := make(chan []byte, 1)
	token := ts.mqttClient.Subscribe("device/0102030405060708/command/up", 0, func(c paho.Client, msg paho.Message) {
		cmdChan <- msg.Payload()
	})
	token.Wait()
	assert.NoError(token.Error())

	assert.NoError(ts.backend.Publish(marshaler.CommandUplink, []byte(`{"fPort":1}`)))
	select {
	case b := <-cmdChan:
		assert.Equal([]byte(`{"fPort":1}`), b)
	case <-time.After(5 * time.Second):
		ts.T().Fatal("timeout waiting for command")
	}
}

func (ts *BackendTestSuite) TestEvent() {
	assert := require.New(ts.T())

	// wait for the backend subscription
	time.Sleep(100 * time.Millisecond)

	token := ts.mqttClient.Publish("device/0102030405060708/event/tx_done", 0, false, []byte{})
	token.Wait()
	assert.NoError(token.Error())

	assert.Eventually(func() bool {
		ts.mu.Lock()
		defer ts.mu.Unlock()
		for _, e := range ts.events {
			if e.Type == "tx_done" {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)
}

func TestBackend(t *testing.T) {
	suite.Run(t, new(BackendTestSuite))
}
