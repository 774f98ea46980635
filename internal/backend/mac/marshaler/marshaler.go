// Package marshaler implements the encoding of the commands sent to and the
// events received from a remote MAC stack.
package marshaler

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"

	"github.com/brocaar/lorawan"

	"github.com/thingpilot/lorawan-node/internal/backend/mac"
)

// Command types.
const (
	CommandClass      = "class"
	CommandADR        = "adr"
	CommandConnect    = "connect"
	CommandDisconnect = "disconnect"
	CommandUplink     = "up"
	CommandRadio      = "radio"
)

// EventRX is the event type carrying a received downlink.
const EventRX = "rx"

// Radio modes.
const (
	RadioSleep   = "sleep"
	RadioStandby = "standby"
)

// ClassCommand sets the device class.
type ClassCommand struct {
	Class mac.DeviceClass `json:"class"`
}

// ADRCommand enables or disables adaptive data-rate.
type ADRCommand struct {
	Enabled bool `json:"enabled"`
}

// ConnectCommand starts the activation of the device.
type ConnectCommand struct {
	Activation mac.Activation     `json:"activation"`
	DevEUI     *lorawan.EUI64     `json:"devEUI,omitempty"`
	JoinEUI    *lorawan.EUI64     `json:"joinEUI,omitempty"`
	AppKey     *lorawan.AES128Key `json:"appKey,omitempty"`
	NetID      *lorawan.NetID     `json:"netID,omitempty"`
	DevAddr    *lorawan.DevAddr   `json:"devAddr,omitempty"`
	NwkSKey    *lorawan.AES128Key `json:"nwkSKey,omitempty"`
	AppSKey    *lorawan.AES128Key `json:"appSKey,omitempty"`
}

// DisconnectCommand terminates the session.
type DisconnectCommand struct{}

// UplinkCommand schedules an uplink.
type UplinkCommand struct {
	FPort uint8     `json:"fPort"`
	Data  []byte    `json:"data"`
	Flags mac.Flags `json:"flags"`
}

// RadioCommand changes the radio mode.
type RadioCommand struct {
	Mode string `json:"mode"`
}

// RXEvent holds a received downlink.
type RXEvent struct {
	FPort uint8     `json:"fPort"`
	Data  []byte    `json:"data"`
	Flags mac.Flags `json:"flags"`
}

// NewConnectCommand returns the connect command for the given parameters.
// Only the credentials of the selected activation mode are included.
func NewConnectCommand(p mac.ConnectParams) ConnectCommand {
	cmd := ConnectCommand{
		Activation: p.Activation,
	}

	switch p.Activation {
	case mac.ActivationOTAA:
		cmd.DevEUI = &p.OTAA.DevEUI
		cmd.JoinEUI = &p.OTAA.JoinEUI
		cmd.AppKey = &p.OTAA.AppKey
	case mac.ActivationABP:
		cmd.NetID = &p.ABP.NetID
		cmd.DevAddr = &p.ABP.DevAddr
		cmd.NwkSKey = &p.ABP.NwkSKey
		cmd.AppSKey = &p.ABP.AppSKey
	}

	return cmd
}

// MarshalCommand marshals the given command.
func MarshalCommand(cmd interface{}) ([]byte, error) {
	b, err := json.Marshal(cmd)
	if err != nil {
		return nil, errors.Wrap(err, "marshal command error")
	}
	return b, nil
}

// UnmarshalRXEvent unmarshals a rx event.
func UnmarshalRXEvent(b []byte) (RXEvent, error) {
	var ev RXEvent
	if len(b) == 0 {
		return ev, errors.New("empty rx event")
	}
	if err := json.Unmarshal(b, &ev); err != nil {
		return ev, errors.Wrap(err, "unmarshal rx event error")
	}
	return ev, nil
}

// EventType returns the event type given a topic or routing-key. The event
// type is the last segment, using either / or . as separator.
func EventType(s string) string {
	if i := strings.LastIndexAny(s, "/."); i != -1 {
		return s[i+1:]
	}
	return s
}
