// Package router classifies downlink messages by port and applies the
// matching decode rule.
package router

import (
	"fmt"
	"math/big"

	"github.com/pkg/errors"

	"github.com/thingpilot/lorawan-node/internal/backend/mac"
	"github.com/thingpilot/lorawan-node/internal/codec"
)

// Reserved control ports.
const (
	PortClockSyncRequest uint8 = 220
	PortClockSync        uint8 = 221
	PortScheduler        uint8 = 222
	PortReset            uint8 = 223
)

// MaxPayloadSize is the size of the receive scratch buffer.
const MaxPayloadSize = 100

// MaxClockSyncSize is the max. size of an epoch payload.
const MaxClockSyncSize = 8

// Errors.
var (
	ErrInvalidPort     = errors.New("invalid port")
	ErrPayloadTooLarge = errors.New("payload exceeds scratch buffer")
	ErrInvalidPayload  = errors.New("invalid payload")
)

// Category defines the decode rule of a port.
type Category int

// Port categories.
const (
	Data Category = iota
	ClockSync
	Scheduler
	Reset
)

// String implements fmt.Stringer.
func (c Category) String() string {
	switch c {
	case Data:
		return "data"
	case ClockSync:
		return "clock_sync"
	case Scheduler:
		return "scheduler"
	case Reset:
		return "reset"
	default:
		return fmt.Sprintf("Category(%d)", int(c))
	}
}

// Classify returns the category of the given port. Every port maps to
// exactly one category, Data being the catch-all.
func Classify(port uint8) Category {
	switch port {
	case PortClockSync:
		return ClockSync
	case PortScheduler:
		return Scheduler
	case PortReset:
		return Reset
	default:
		return Data
	}
}

// ValidPort returns true when the port can carry a downlink (1 - 223).
func ValidPort(port uint8) bool {
	return port > 0 && port < 224
}

// ApplicationPort returns true when the port is available for application
// traffic (1 - 219).
func ApplicationPort(port uint8) bool {
	return port > 0 && port < PortClockSyncRequest
}

// DownlinkMessage is the result of a single receive.
type DownlinkMessage struct {
	Port     uint8
	Category Category
	Flags    mac.Flags
	Payload  []byte

	// Values holds the decoded values. For the clock-sync port this is the
	// epoch, for the scheduler port one value per 16 bit word and for the
	// data port the low 64 bits of Integer.
	Values []uint64

	// Integer holds the exact big-endian value of a data port payload.
	Integer *big.Int

	// Status is the byte count, 0 when nothing was received.
	Status int
}

// Empty returns true when nothing was received.
func (m DownlinkMessage) Empty() bool {
	return m.Status == 0
}

// Epoch returns the epoch carried by a clock-sync message.
func (m DownlinkMessage) Epoch() (int64, bool) {
	if m.Category != ClockSync || len(m.Values) != 1 {
		return 0, false
	}
	return int64(m.Values[0]), true
}

// Decode decodes the payload received on the given port. It does not retain
// b.
func Decode(port uint8, b []byte) (DownlinkMessage, error) {
	if !ValidPort(port) {
		return DownlinkMessage{}, errors.Wrapf(ErrInvalidPort, "port %d", port)
	}
	if len(b) > MaxPayloadSize {
		return DownlinkMessage{}, errors.Wrapf(ErrPayloadTooLarge, "%d bytes", len(b))
	}

	msg := DownlinkMessage{
		Port:     port,
		Category: Classify(port),
		Status:   len(b),
	}
	if len(b) == 0 {
		return msg, nil
	}

	msg.Payload = make([]byte, len(b))
	copy(msg.Payload, b)

	switch msg.Category {
	case Reset:
	case ClockSync:
		if len(b) > MaxClockSyncSize {
			return DownlinkMessage{}, errors.Wrapf(ErrInvalidPayload, "epoch of %d bytes", len(b))
		}
		v, err := codec.Uint64(b)
		if err != nil {
			return DownlinkMessage{}, errors.Wrap(err, "decode epoch error")
		}
		msg.Values = []uint64{v}
	case Scheduler:
		for _, w := range codec.Words(b) {
			msg.Values = append(msg.Values, uint64(w))
		}
	default:
		msg.Integer = codec.BigInt(b)
		msg.Values = []uint64{lowUint64(msg.Integer)}
	}

	return msg, nil
}

func lowUint64(i *big.Int) uint64 {
	mask := new(big.Int).SetUint64(^uint64(0))
	return new(big.Int).And(i, mask).Uint64()
}
