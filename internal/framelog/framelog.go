// Package framelog publishes the uplink and downlink frames of the device to
// Redis pub-sub, so that they can be inspected live.
package framelog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/brocaar/lorawan"
	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/thingpilot/lorawan-node/internal/backend/mac"
	"github.com/thingpilot/lorawan-node/internal/logging"
	"github.com/thingpilot/lorawan-node/internal/storage"
)

const (
	deviceFrameLogUplinkPubSubKeyTempl   = "lorawan-node:device:%s:pubsub:frame:uplink"
	deviceFrameLogDownlinkPubSubKeyTempl = "lorawan-node:device:%s:pubsub:frame:downlink"
)

// Direction defines the frame direction.
type Direction string

// Frame directions.
const (
	Uplink   Direction = "UPLINK"
	Downlink Direction = "DOWNLINK"
)

// Frame contains the details of an uplink or downlink frame.
type Frame struct {
	Direction Direction     `json:"direction"`
	DevEUI    lorawan.EUI64 `json:"devEUI"`
	Port      uint8         `json:"fPort"`
	Payload   []byte        `json:"data"`
	Flags     mac.Flags     `json:"flags"`
	Status    int           `json:"status"`
	Time      time.Time     `json:"time"`
}

// Logger logs frames to Redis pub-sub.
type Logger struct {
	client redis.UniversalClient
}

// NewLogger creates a new Logger using the given client. When client is nil,
// storage.RedisClient() is used.
func NewLogger(client redis.UniversalClient) *Logger {
	if client == nil {
		client = storage.RedisClient()
	}
	return &Logger{client: client}
}

// LogFrame publishes the given frame to the pub-sub key of its DevEUI.
func (l *Logger) LogFrame(ctx context.Context, f Frame) error {
	b, err := json.Marshal(f)
	if err != nil {
		return errors.Wrap(err, "marshal json error")
	}

	key := frameKey(f.DevEUI, f.Direction)
	if err := l.client.Publish(ctx, key, b).Err(); err != nil {
		return errors.Wrap(err, "publish frame to device channel error")
	}

	log.WithFields(log.Fields{
		"dev_eui":   f.DevEUI,
		"direction": f.Direction,
		"f_port":    f.Port,
		"ctx_id":    ctx.Value(logging.ContextIDKey),
	}).Debug("framelog: frame published")

	return nil
}

// GetFrameLogForDevice subscribes to the uplink and downlink frame logs
// for the given device and sends these to the given channel until the
// context is cancelled.
func (l *Logger) GetFrameLogForDevice(ctx context.Context, devEUI lorawan.EUI64, frames chan<- Frame) error {
	sub := l.client.Subscribe(ctx, frameKey(devEUI, Uplink), frameKey(devEUI, Downlink))
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return errors.Wrap(err, "subscribe error")
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}

			var f Frame
			if err := json.Unmarshal([]byte(msg.Payload), &f); err != nil {
				log.WithError(err).WithField("channel", msg.Channel).Error("framelog: unmarshal frame error")
				continue
			}
			frames <- f
		}
	}
}

func frameKey(devEUI lorawan.EUI64, d Direction) string {
	if d == Downlink {
		return storage.GetRedisKey(deviceFrameLogDownlinkPubSubKeyTempl, devEUI)
	}
	return storage.GetRedisKey(deviceFrameLogUplinkPubSubKeyTempl, devEUI)
}
