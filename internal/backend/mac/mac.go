// Package mac defines the interface of the LoRaWAN MAC stack. The MAC stack
// (channel plans, ADR, duty-cycle and security) is implemented elsewhere and
// is consumed by the session layer through the Stack and Radio interfaces.
package mac

import (
	"fmt"
	"strings"

	"github.com/brocaar/lorawan"
	"github.com/pkg/errors"
)

// Flags defines the message flags of an uplink or downlink.
type Flags uint8

// Message flags.
const (
	MsgUnconfirmed Flags = 0x01
	MsgConfirmed   Flags = 0x02
	MsgMulticast   Flags = 0x04
	MsgProprietary Flags = 0x08
)

// DeviceClass defines the LoRaWAN device class.
type DeviceClass byte

// Device classes.
const (
	ClassA DeviceClass = iota
	ClassB
	ClassC
)

// String implements fmt.Stringer.
func (c DeviceClass) String() string {
	switch c {
	case ClassA:
		return "A"
	case ClassB:
		return "B"
	case ClassC:
		return "C"
	default:
		return fmt.Sprintf("DeviceClass(%d)", c)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (c DeviceClass) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *DeviceClass) UnmarshalText(text []byte) error {
	switch strings.ToUpper(strings.TrimSpace(string(text))) {
	case "A", "CLASS_A":
		*c = ClassA
	case "B", "CLASS_B":
		*c = ClassB
	case "C", "CLASS_C":
		*c = ClassC
	default:
		return fmt.Errorf("invalid device class: %s", text)
	}
	return nil
}

// Activation defines the session activation mode.
type Activation string

// Activation modes. With ActivationNone the MAC stack uses the credentials
// it was provisioned with.
const (
	ActivationNone Activation = ""
	ActivationOTAA Activation = "OTAA"
	ActivationABP  Activation = "ABP"
)

// ParseActivation parses the given activation mode (case insensitive).
func ParseActivation(s string) (Activation, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "NONE":
		return ActivationNone, nil
	case "OTAA":
		return ActivationOTAA, nil
	case "ABP":
		return ActivationABP, nil
	default:
		return ActivationNone, fmt.Errorf("invalid activation mode: %s", s)
	}
}

// OTAAParams holds the over-the-air activation credentials.
type OTAAParams struct {
	DevEUI  lorawan.EUI64
	JoinEUI lorawan.EUI64
	AppKey  lorawan.AES128Key
}

// ABPParams holds the activation-by-personalization credentials.
type ABPParams struct {
	NetID   lorawan.NetID
	DevAddr lorawan.DevAddr
	NwkSKey lorawan.AES128Key
	AppSKey lorawan.AES128Key
}

// ConnectParams holds the parameters for Stack.Connect. Only the params
// matching Activation are used.
type ConnectParams struct {
	Activation Activation
	OTAA       OTAAParams
	ABP        ABPParams
}

// Validate validates the connect parameters.
func (p ConnectParams) Validate() error {
	switch p.Activation {
	case ActivationNone:
		return nil
	case ActivationOTAA:
		if p.OTAA.DevEUI == (lorawan.EUI64{}) {
			return errors.New("otaa: dev_eui must be set")
		}
		if p.OTAA.AppKey == (lorawan.AES128Key{}) {
			return errors.New("otaa: app_key must be set")
		}
		return nil
	case ActivationABP:
		if p.ABP.DevAddr == (lorawan.DevAddr{}) {
			return errors.New("abp: dev_addr must be set")
		}
		if p.ABP.NwkSKey == (lorawan.AES128Key{}) || p.ABP.AppSKey == (lorawan.AES128Key{}) {
			return errors.New("abp: nwk_s_key and app_s_key must be set")
		}
		return nil
	default:
		return fmt.Errorf("unknown activation mode: %s", p.Activation)
	}
}

// EventHandler is the sink for asynchronous MAC stack events.
// HandleEvent must not block.
type EventHandler interface {
	HandleEvent(Event)
}

// Stack is the interface of the MAC stack.
type Stack interface {
	// Initialize initializes the stack and registers the event sink.
	Initialize(h EventHandler) Status

	// Connect starts the join / session establishment.
	Connect(p ConnectParams) Status

	// SetDeviceClass sets the device class.
	SetDeviceClass(c DeviceClass) Status

	// EnableAdaptiveDatarate enables ADR.
	EnableAdaptiveDatarate() Status

	// Disconnect closes the session. On success this returns StatusDeviceOff.
	Disconnect() Status

	// Send schedules the payload on the given port. It returns the number of
	// bytes that were scheduled.
	Send(port uint8, payload []byte, flags Flags) (int, Status)

	// Receive copies the pending downlink into buf. It returns
	// StatusWouldBlock when there is nothing to read.
	Receive(buf []byte) (port uint8, n int, flags Flags, st Status)
}

// Radio is the interface of the radio transceiver power control.
type Radio interface {
	Sleep() error
	Standby() error
}

// Backend combines the MAC stack and radio of a device together with a
// Close method.
type Backend interface {
	Stack
	Radio
	Close() error
}
