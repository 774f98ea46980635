package mac

import "fmt"

// Status defines a MAC stack status code. Non-negative values are success.
type Status int

// MAC stack status codes.
const (
	StatusOK                   Status = 0
	StatusBusy                 Status = -1000
	StatusWouldBlock           Status = -1001
	StatusServiceUnknown       Status = -1002
	StatusParameterInvalid     Status = -1003
	StatusFrequencyInvalid     Status = -1004
	StatusDatarateInvalid      Status = -1005
	StatusFreqAndDRInvalid     Status = -1006
	StatusNoNetworkJoined      Status = -1009
	StatusLengthError          Status = -1010
	StatusDeviceOff            Status = -1011
	StatusNotInitialized       Status = -1012
	StatusUnsupported          Status = -1013
	StatusCryptoFail           Status = -1014
	StatusPortInvalid          Status = -1015
	StatusConnectInProgress    Status = -1016
	StatusNoActiveSessions     Status = -1017
	StatusIdle                 Status = -1018
	StatusDutyCycleRestricted  Status = -1019
	StatusNoChannelFound       Status = -1020
	StatusNoFreeChannelFound   Status = -1021
	StatusMetadataNotAvailable Status = -1022
	StatusAlreadyConnected     Status = -1023
)

var statusNames = map[Status]string{
	StatusOK:                   "OK",
	StatusBusy:                 "BUSY",
	StatusWouldBlock:           "WOULD_BLOCK",
	StatusServiceUnknown:       "SERVICE_UNKNOWN",
	StatusParameterInvalid:     "PARAMETER_INVALID",
	StatusFrequencyInvalid:     "FREQUENCY_INVALID",
	StatusDatarateInvalid:      "DATARATE_INVALID",
	StatusFreqAndDRInvalid:     "FREQ_AND_DR_INVALID",
	StatusNoNetworkJoined:      "NO_NETWORK_JOINED",
	StatusLengthError:          "LENGTH_ERROR",
	StatusDeviceOff:            "DEVICE_OFF",
	StatusNotInitialized:       "NOT_INITIALIZED",
	StatusUnsupported:          "UNSUPPORTED",
	StatusCryptoFail:           "CRYPTO_FAIL",
	StatusPortInvalid:          "PORT_INVALID",
	StatusConnectInProgress:    "CONNECT_IN_PROGRESS",
	StatusNoActiveSessions:     "NO_ACTIVE_SESSIONS",
	StatusIdle:                 "IDLE",
	StatusDutyCycleRestricted:  "DUTYCYCLE_RESTRICTED",
	StatusNoChannelFound:       "NO_CHANNEL_FOUND",
	StatusNoFreeChannelFound:   "NO_FREE_CHANNEL_FOUND",
	StatusMetadataNotAvailable: "METADATA_NOT_AVAILABLE",
	StatusAlreadyConnected:     "ALREADY_CONNECTED",
}

// String implements fmt.Stringer.
func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("STATUS(%d)", int(s))
}

// Transient returns true when the status signals a condition which might
// resolve itself when the call is retried.
func (s Status) Transient() bool {
	switch s {
	case StatusBusy, StatusWouldBlock, StatusDutyCycleRestricted, StatusNoChannelFound, StatusNoFreeChannelFound:
		return true
	default:
		return false
	}
}
