package session

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/thingpilot/lorawan-node/internal/logging"
	"github.com/thingpilot/lorawan-node/internal/router"
)

// clockSyncRequest is the payload sent on the time-request port.
var clockSyncRequest = []byte{0x01}

// SynchronizeTime requests the network time by sending a request on the
// time-request port and waiting for the reply on the clock-sync port. It
// returns true when the received time was applied to the clock. Other
// downlinks received in the meantime are returned by the next Receive. When
// no reply is received within the configured attempts, the last error is
// returned. Not obtaining the time is not fatal.
func (s *Session) SynchronizeTime(ctx context.Context) (bool, error) {
	ctx = logging.NewContext(ctx)

	if err := s.begin("clock_sync", Connected); err != nil {
		operationCounter("clock_sync", err).Inc()
		return false, err
	}
	defer s.end()

	applied, err := s.synchronizeTime(ctx)
	operationCounter("clock_sync", err).Inc()
	return applied, err
}

func (s *Session) synchronizeTime(ctx context.Context) (bool, error) {
	logFields := logging.Fields(ctx)

	var lastErr error
	for attempt := 0; attempt < s.conf.ClockSync.Attempts; attempt++ {
		if attempt > 0 {
			if err := sleepContext(ctx, s.conf.ClockSync.RetryInterval); err != nil {
				return false, contextErr(err)
			}
		}

		if _, err := s.transmit(ctx, router.PortClockSyncRequest, clockSyncRequest); err != nil {
			if fatalSyncErr(err) {
				return false, err
			}
			lastErr = err
			log.WithFields(logFields).WithError(err).Warning("session: send clock-sync request error")
			continue
		}

		msg, applied, err := s.receive(ctx)
		if err != nil {
			if fatalSyncErr(err) {
				return false, err
			}
			lastErr = err
			log.WithFields(logFields).WithError(err).Warning("session: receive clock-sync reply error")
			continue
		}

		if msg.Category == router.ClockSync {
			return applied, nil
		}

		lastErr = ErrNoTime
		if !msg.Empty() {
			s.pushPending(msg)
			log.WithFields(logFields).WithFields(log.Fields{
				"attempt":  attempt + 1,
				"f_port":   msg.Port,
				"category": msg.Category,
			}).Info("session: downlink received during clock-sync, kept for receive")
			continue
		}
		log.WithFields(logFields).WithFields(log.Fields{
			"attempt": attempt + 1,
		}).Debug("session: no clock-sync reply received")
	}

	return false, lastErr
}

// GetUnixTime synchronizes the clock with the network and returns the
// current Unix time. When the time could not be obtained, the error is
// returned.
func (s *Session) GetUnixTime(ctx context.Context) (int64, error) {
	if _, err := s.SynchronizeTime(ctx); err != nil {
		return 0, err
	}
	return s.clock.Now().Unix(), nil
}

// fatalSyncErr returns true for errors on which retrying is pointless.
func fatalSyncErr(err error) bool {
	return errors.Is(err, ErrNoActiveSession) || errors.Is(err, ErrNotInitialized) || errors.Is(err, ErrDeviceReset) || errors.Is(err, ErrStateMismatch)
}
