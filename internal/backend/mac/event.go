package mac

//go:generate stringer -type=Event

// Event defines an asynchronous MAC stack event. Every event terminates the
// pending radio operation, successful or not.
type Event int

// MAC stack events.
const (
	Connected Event = iota
	Disconnected
	TXDone
	TXTimeout
	TXError
	TXCryptoError
	TXSchedulingError
	RXDone
	RXTimeout
	RXError
	JoinFailure
	UplinkRequired
	AutomaticUplinkError
)

var eventNames = map[Event]string{
	Connected:            "connected",
	Disconnected:         "disconnected",
	TXDone:               "tx_done",
	TXTimeout:            "tx_timeout",
	TXError:              "tx_error",
	TXCryptoError:        "tx_crypto_error",
	TXSchedulingError:    "tx_scheduling_error",
	RXDone:               "rx_done",
	RXTimeout:            "rx_timeout",
	RXError:              "rx_error",
	JoinFailure:          "join_failure",
	UplinkRequired:       "uplink_required",
	AutomaticUplinkError: "automatic_uplink_error",
}

// Name returns the snake-case name of the event as used in log fields,
// metric labels and the bridge wire format.
func (e Event) Name() string {
	if n, ok := eventNames[e]; ok {
		return n
	}
	return "unknown"
}

// ParseEvent returns the event for the given snake-case name.
func ParseEvent(name string) (Event, bool) {
	for e, n := range eventNames {
		if n == name {
			return e, true
		}
	}
	return 0, false
}
