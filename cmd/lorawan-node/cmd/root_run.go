package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/thingpilot/lorawan-node/internal/backend/mac"
	"github.com/thingpilot/lorawan-node/internal/backend/mac/amqp"
	"github.com/thingpilot/lorawan-node/internal/backend/mac/bridge"
	"github.com/thingpilot/lorawan-node/internal/backend/mac/mqtt"
	"github.com/thingpilot/lorawan-node/internal/clock"
	"github.com/thingpilot/lorawan-node/internal/config"
	"github.com/thingpilot/lorawan-node/internal/framelog"
	"github.com/thingpilot/lorawan-node/internal/monitoring"
	"github.com/thingpilot/lorawan-node/internal/node"
	"github.com/thingpilot/lorawan-node/internal/reset"
	"github.com/thingpilot/lorawan-node/internal/session"
	"github.com/thingpilot/lorawan-node/internal/storage"
)

var (
	backend mac.Backend
	sess    *session.Session
	runner  *node.Runner
	clk     clock.Clock
)

func run(cmd *cobra.Command, args []string) error {
	tasks := []func() error{
		setLogLevel,
		setSyslog,
		printStartMessage,
		setupMonitoring,
		setupStorage,
		setupBackend,
		setupSession,
		startRunner,
	}

	for _, t := range tasks {
		if err := t(); err != nil {
			log.Fatal(err)
		}
	}

	sigChan := make(chan os.Signal, 1)
	exitChan := make(chan struct{})
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	log.WithField("signal", <-sigChan).Info("signal received")
	go func() {
		log.Warning("stopping lorawan-node")
		if err := runner.Stop(); err != nil {
			log.Fatal(err)
		}
		if err := backend.Close(); err != nil {
			log.Fatal(err)
		}
		exitChan <- struct{}{}
	}()
	select {
	case <-exitChan:
	case s := <-sigChan:
		log.WithField("signal", s).Info("signal received, stopping immediately")
	}

	return nil
}

func setLogLevel() error {
	log.SetLevel(log.Level(uint8(config.C.General.LogLevel)))
	return nil
}

func printStartMessage() error {
	log.WithFields(log.Fields{
		"version":    version,
		"dev_eui":    config.C.Device.DevEUI,
		"class":      config.C.Device.Class,
		"activation": config.C.Device.Activation.Mode,
		"board":      config.C.Device.Board,
		"backend":    config.C.Backend.Type,
	}).Info("starting LoRaWAN node")
	return nil
}

func setupMonitoring() error {
	if err := monitoring.Setup(config.C, func() fmt.Stringer {
		if sess == nil {
			return session.Disconnected
		}
		return sess.State()
	}); err != nil {
		return errors.Wrap(err, "setup monitoring error")
	}
	return nil
}

func setupStorage() error {
	if !config.C.Monitoring.FrameLog {
		return nil
	}

	if err := storage.Setup(config.C); err != nil {
		return errors.Wrap(err, "setup storage error")
	}
	return nil
}

func setupBackend() error {
	var t bridge.Transport
	var err error

	switch config.C.Backend.Type {
	case "mqtt":
		t, err = mqtt.NewBackend(config.C)
	case "amqp":
		t, err = amqp.NewBackend(config.C)
	default:
		return fmt.Errorf("invalid backend type: %s", config.C.Backend.Type)
	}
	if err != nil {
		return errors.Wrap(err, "new mac backend error")
	}

	backend = bridge.New(t)
	return nil
}

func setupSession() error {
	params, err := connectParams(config.C)
	if err != nil {
		return errors.Wrap(err, "activation parameters error")
	}

	if config.C.ClockSync.SetSystemTime {
		clk = clock.System{}
	} else {
		clk = clock.NewSoftware(time.Now)
	}

	sess = session.New(session.Config{
		DevEUI:            config.C.Device.DevEUI,
		Activation:        params,
		ADR:               config.C.Device.ADR,
		JoinAttempts:      config.C.Session.JoinAttempts,
		JoinRetryInterval: config.C.Session.JoinRetryInterval,
		JoinTimeout:       config.C.Session.JoinTimeout,
		SendAttempts:      config.C.Session.SendAttempts,
		SendRetryInterval: config.C.Session.SendRetryInterval,
		TXTimeout:         config.C.Session.TXTimeout,
		RXTimeout:         config.C.Session.RXTimeout,
		ConfirmedUplinks:  config.C.Session.ConfirmedUplinks,
		EventQueueSize:    config.C.Session.EventQueueSize,
		ClockSync: session.ClockSyncConfig{
			Attempts:      config.C.ClockSync.Attempts,
			RetryInterval: config.C.ClockSync.RetryInterval,
			Skew:          config.C.ClockSync.Skew,
		},
	}, backend, backend, clk, reset.Process{})

	if config.C.Monitoring.FrameLog {
		sess.SetFrameLogger(framelog.NewLogger(storage.RedisClient()))
	}

	return nil
}

func startRunner() error {
	var class mac.DeviceClass
	if err := class.UnmarshalText([]byte(config.C.Device.Class)); err != nil {
		return errors.Wrap(err, "decode device class error")
	}

	runner = node.NewRunner(node.Config{
		Class:             class,
		UplinkPort:        config.C.Node.UplinkPort,
		UplinkInterval:    config.C.Node.UplinkInterval,
		ClockSyncInterval: config.C.ClockSync.Interval,
		Sleep:             config.C.Node.Sleep,
	}, sess, clk)

	if err := runner.Start(); err != nil {
		return errors.Wrap(err, "start runner error")
	}
	return nil
}

// connectParams returns the activation parameters from the device
// configuration.
func connectParams(c config.Config) (mac.ConnectParams, error) {
	mode, err := mac.ParseActivation(c.Device.Activation.Mode)
	if err != nil {
		return mac.ConnectParams{}, err
	}

	a := c.Device.Activation
	p := mac.ConnectParams{
		Activation: mode,
		OTAA: mac.OTAAParams{
			DevEUI:  c.Device.DevEUI,
			JoinEUI: a.JoinEUI,
			AppKey:  a.AppKey,
		},
		ABP: mac.ABPParams{
			NetID:   a.NetID,
			DevAddr: a.DevAddr,
			NwkSKey: a.NwkSKey,
			AppSKey: a.AppSKey,
		},
	}

	return p, p.Validate()
}
