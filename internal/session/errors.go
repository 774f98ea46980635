package session

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/thingpilot/lorawan-node/internal/backend/mac"
)

// Errors.
var (
	ErrNotInitialized   = errors.New("session not initialized")
	ErrNoActiveSession  = errors.New("no active session")
	ErrWouldBlock       = errors.New("would block")
	ErrBusy             = errors.New("operation in progress")
	ErrPortInvalid      = errors.New("invalid port")
	ErrParameterInvalid = errors.New("invalid parameter")
	ErrJoinFailure      = errors.New("join failure")
	ErrTx               = errors.New("tx error")
	ErrRx               = errors.New("rx error")
	ErrDeviceReset      = errors.New("device reset")
	ErrDeviceOff        = errors.New("device off")
	ErrStateMismatch    = errors.New("state mismatch")
	ErrNoTime           = errors.New("no time obtained")
)

// Status codes of this layer, extending the MAC stack status codes.
const (
	StatusJoinFailure   = -1100
	StatusTxError       = -1101
	StatusRxError       = -1102
	StatusDeviceReset   = -1103
	StatusStateMismatch = -1104
	StatusUnknownError  = -1105
)

// StatusError holds the MAC stack status or event which caused the error.
type StatusError struct {
	Err    error
	Status mac.Status
	Event  *mac.Event
}

func (e *StatusError) Error() string {
	if e.Event != nil {
		return fmt.Sprintf("%s (event: %s)", e.Err, e.Event.Name())
	}
	return fmt.Sprintf("%s (status: %s)", e.Err, e.Status)
}

// Unwrap returns the underlying error.
func (e *StatusError) Unwrap() error {
	return e.Err
}

// Cause returns the underlying error.
func (e *StatusError) Cause() error {
	return e.Err
}

// StateError is returned when an operation is invoked in a state which does
// not permit it. It matches ErrStateMismatch.
type StateError struct {
	Op    string
	State State
	Err   error
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s not permitted in state %s: %s", e.Op, e.State, e.Err)
}

// Unwrap returns the underlying error.
func (e *StateError) Unwrap() error {
	return e.Err
}

// Is implements the errors.Is interface.
func (e *StateError) Is(target error) bool {
	return target == ErrStateMismatch
}

var statusCodes = []struct {
	err  error
	code int
}{
	{ErrNotInitialized, int(mac.StatusNotInitialized)},
	{ErrNoActiveSession, int(mac.StatusNoActiveSessions)},
	{ErrWouldBlock, int(mac.StatusWouldBlock)},
	{ErrNoTime, int(mac.StatusWouldBlock)},
	{ErrBusy, int(mac.StatusBusy)},
	{ErrPortInvalid, int(mac.StatusPortInvalid)},
	{ErrParameterInvalid, int(mac.StatusParameterInvalid)},
	{ErrJoinFailure, StatusJoinFailure},
	{ErrTx, StatusTxError},
	{ErrRx, StatusRxError},
	{ErrDeviceReset, StatusDeviceReset},
	{ErrDeviceOff, int(mac.StatusDeviceOff)},
	{ErrStateMismatch, StatusStateMismatch},
}

// Status returns the signed status code of the given error: 0 for nil and a
// negative code otherwise.
func Status(err error) int {
	if err == nil {
		return int(mac.StatusOK)
	}

	for _, sc := range statusCodes {
		if errors.Is(err, sc.err) {
			return sc.code
		}
	}

	return StatusUnknownError
}

// statusErr maps the given (non-OK) MAC status to an error. The fallback
// error is used for statuses without a dedicated error.
func statusErr(st mac.Status, fallback error) error {
	var err error

	switch st {
	case mac.StatusBusy:
		err = ErrBusy
	case mac.StatusWouldBlock, mac.StatusDutyCycleRestricted, mac.StatusNoChannelFound, mac.StatusNoFreeChannelFound:
		err = ErrWouldBlock
	case mac.StatusParameterInvalid, mac.StatusFrequencyInvalid, mac.StatusDatarateInvalid, mac.StatusFreqAndDRInvalid, mac.StatusLengthError:
		err = ErrParameterInvalid
	case mac.StatusPortInvalid:
		err = ErrPortInvalid
	case mac.StatusNotInitialized:
		err = ErrNotInitialized
	case mac.StatusNoActiveSessions, mac.StatusNoNetworkJoined:
		err = ErrNoActiveSession
	case mac.StatusDeviceOff:
		err = ErrDeviceOff
	default:
		err = fallback
	}

	return &StatusError{Err: err, Status: st}
}

// eventErr returns the error for the given failure event.
func eventErr(e mac.Event, err error) error {
	return &StatusError{Err: err, Event: &e}
}

// statusName returns the name of the given status code.
func statusName(code int) string {
	switch code {
	case StatusJoinFailure:
		return "JOIN_FAILURE"
	case StatusTxError:
		return "TX_ERROR"
	case StatusRxError:
		return "RX_ERROR"
	case StatusDeviceReset:
		return "DEVICE_RESET"
	case StatusStateMismatch:
		return "STATE_MISMATCH"
	case StatusUnknownError:
		return "UNKNOWN_ERROR"
	default:
		return mac.Status(code).String()
	}
}
