package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/thingpilot/lorawan-node/internal/config"
	"github.com/thingpilot/lorawan-node/internal/framelog"
	"github.com/thingpilot/lorawan-node/internal/storage"
)

var frameLogCmd = &cobra.Command{
	Use:   "framelog",
	Short: "Print the uplink and downlink frames of the device as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := storage.Setup(config.C); err != nil {
			return errors.Wrap(err, "setup storage error")
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		go func() {
			log.WithField("signal", <-sigChan).Info("signal received")
			cancel()
		}()

		frames := make(chan framelog.Frame)
		go func() {
			for f := range frames {
				b, err := json.Marshal(f)
				if err != nil {
					log.WithError(err).Error("marshal frame error")
					continue
				}
				fmt.Println(string(b))
			}
		}()

		err := framelog.NewLogger(nil).GetFrameLogForDevice(ctx, config.C.Device.DevEUI, frames)
		close(frames)
		return err
	},
}
