package bridge

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/brocaar/lorawan"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/thingpilot/lorawan-node/internal/backend/mac"
	"github.com/thingpilot/lorawan-node/internal/backend/mac/marshaler"
)

type command struct {
	Type string
	Body []byte
}

type testTransport struct {
	mu         sync.Mutex
	deliver    func(string, []byte)
	commands   []command
	openErr    error
	publishErr error
	closed     bool
}

func (t *testTransport) Open(deliver func(string, []byte)) error {
	if t.openErr != nil {
		return t.openErr
	}
	t.deliver = deliver
	return nil
}

func (t *testTransport) Publish(cmd string, body []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.publishErr != nil {
		return t.publishErr
	}
	t.commands = append(t.commands, command{Type: cmd, Body: body})
	return nil
}

func (t *testTransport) Close() error {
	t.closed = true
	return nil
}

type testHandler struct {
	mu     sync.Mutex
	events []mac.Event
}

func (h *testHandler) HandleEvent(e mac.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, e)
}

type CoreTestSuite struct {
	suite.Suite

	transport *testTransport
	handler   *testHandler
	core      *Core
}

func (ts *CoreTestSuite) SetupTest() {
	ts.transport = &testTransport{}
	ts.handler = &testHandler{}
	ts.core = New(ts.transport)
	ts.Require().Equal(mac.StatusOK, ts.core.Initialize(ts.handler))
}

func (ts *CoreTestSuite) TestInitializeError() {
	assert := require.New(ts.T())

	c := New(&testTransport{openErr: errors.New("boom")})
	assert.Equal(mac.StatusNotInitialized, c.Initialize(ts.handler))
	assert.Equal(mac.StatusNotInitialized, c.SetDeviceClass(mac.ClassA))
}

func (ts *CoreTestSuite) TestConnect() {
	tests := []struct {
		Name     string
		Params   mac.ConnectParams
		Expected mac.Status
	}{
		{
			Name: "otaa",
			Params: mac.ConnectParams{
				Activation: mac.ActivationOTAA,
				OTAA: mac.OTAAParams{
					DevEUI: lorawan.EUI64{1, 2, 3, 4, 5, 6, 7, 8},
					AppKey: lorawan.AES128Key{1},
				},
			},
			Expected: mac.StatusConnectInProgress,
		},
		{
			Name: "abp",
			Params: mac.ConnectParams{
				Activation: mac.ActivationABP,
				ABP: mac.ABPParams{
					DevAddr: lorawan.DevAddr{1, 2, 3, 4},
					NwkSKey: lorawan.AES128Key{1},
					AppSKey: lorawan.AES128Key{2},
				},
			},
			Expected: mac.StatusOK,
		},
		{
			Name:     "provisioned",
			Expected: mac.StatusOK,
		},
		{
			Name:     "invalid",
			Params:   mac.ConnectParams{Activation: mac.ActivationOTAA},
			Expected: mac.StatusParameterInvalid,
		},
	}

	for _, tst := range tests {
		ts.T().Run(tst.Name, func(t *testing.T) {
			assert := require.New(t)
			assert.Equal(tst.Expected, ts.core.Connect(tst.Params))
		})
	}

	assert := require.New(ts.T())
	assert.Len(ts.transport.commands, 3)
	for _, cmd := range ts.transport.commands {
		assert.Equal(marshaler.CommandConnect, cmd.Type)
	}
}

func (ts *CoreTestSuite) TestPublishError() {
	assert := require.New(ts.T())

	ts.transport.publishErr = errors.New("connection lost")
	assert.Equal(mac.StatusWouldBlock, ts.core.EnableAdaptiveDatarate())

	_, st := ts.core.Send(1, []byte{1}, mac.MsgUnconfirmed)
	assert.Equal(mac.StatusWouldBlock, st)
	assert.Error(ts.core.Sleep())
}

func (ts *CoreTestSuite) TestSend() {
	assert := require.New(ts.T())

	n, st := ts.core.Send(10, []byte{1, 2, 3}, mac.MsgConfirmed)
	assert.Equal(mac.StatusOK, st)
	assert.Equal(3, n)

	assert.Len(ts.transport.commands, 1)
	assert.Equal(marshaler.CommandUplink, ts.transport.commands[0].Type)

	var cmd marshaler.UplinkCommand
	assert.NoError(json.Unmarshal(ts.transport.commands[0].Body, &cmd))
	assert.Equal(marshaler.UplinkCommand{FPort: 10, Data: []byte{1, 2, 3}, Flags: mac.MsgConfirmed}, cmd)

	_, st = ts.core.Send(10, make([]byte, MaxPayloadSize+1), mac.MsgUnconfirmed)
	assert.Equal(mac.StatusLengthError, st)
}

func (ts *CoreTestSuite) TestEvents() {
	assert := require.New(ts.T())

	ts.transport.deliver("connected", nil)
	ts.transport.deliver("tx_done", nil)
	ts.transport.deliver("unknown", nil)
	ts.transport.deliver("uplink_required", nil)

	assert.Equal([]mac.Event{mac.Connected, mac.TXDone, mac.UplinkRequired}, ts.handler.events)
}

func (ts *CoreTestSuite) TestReceive() {
	assert := require.New(ts.T())
	buf := make([]byte, 100)

	_, _, _, st := ts.core.Receive(buf)
	assert.Equal(mac.StatusWouldBlock, st)

	ts.transport.deliver(marshaler.EventRX, []byte(`{"fPort":222,"data":"ADwBLA==","flags":1}`))
	ts.transport.deliver(marshaler.EventRX, []byte(`invalid`))
	assert.Equal([]mac.Event{mac.RXDone}, ts.handler.events)

	port, n, flags, st := ts.core.Receive(buf)
	assert.Equal(mac.StatusOK, st)
	assert.EqualValues(222, port)
	assert.Equal(mac.MsgUnconfirmed, flags)
	assert.Equal([]byte{0x00, 0x3c, 0x01, 0x2c}, buf[:n])

	_, _, _, st = ts.core.Receive(buf)
	assert.Equal(mac.StatusWouldBlock, st)

	// downlink larger than the buffer stays pending
	ts.transport.deliver(marshaler.EventRX, []byte(`{"fPort":1,"data":"AQID"}`))
	_, _, _, st = ts.core.Receive(make([]byte, 2))
	assert.Equal(mac.StatusLengthError, st)
	_, n, _, st = ts.core.Receive(buf)
	assert.Equal(mac.StatusOK, st)
	assert.Equal(3, n)
}

func (ts *CoreTestSuite) TestSleep() {
	assert := require.New(ts.T())

	assert.NoError(ts.core.Sleep())
	ts.transport.deliver(marshaler.EventRX, []byte(`{"fPort":1,"data":"AQ=="}`))
	assert.Len(ts.handler.events, 0)

	assert.NoError(ts.core.Standby())
	ts.transport.deliver(marshaler.EventRX, []byte(`{"fPort":1,"data":"AQ=="}`))
	assert.Equal([]mac.Event{mac.RXDone}, ts.handler.events)

	assert.Len(ts.transport.commands, 2)
	assert.Equal(marshaler.CommandRadio, ts.transport.commands[0].Type)
	assert.JSONEq(`{"mode":"sleep"}`, string(ts.transport.commands[0].Body))
	assert.JSONEq(`{"mode":"standby"}`, string(ts.transport.commands[1].Body))
}

func (ts *CoreTestSuite) TestDisconnect() {
	assert := require.New(ts.T())

	ts.transport.deliver(marshaler.EventRX, []byte(`{"fPort":1,"data":"AQ=="}`))
	assert.Equal(mac.StatusDeviceOff, ts.core.Disconnect())

	_, _, _, st := ts.core.Receive(make([]byte, 100))
	assert.Equal(mac.StatusWouldBlock, st)

	assert.NoError(ts.core.Close())
	assert.True(ts.transport.closed)
	assert.Equal(mac.StatusNotInitialized, ts.core.Disconnect())
}

func TestCore(t *testing.T) {
	suite.Run(t, new(CoreTestSuite))
}
