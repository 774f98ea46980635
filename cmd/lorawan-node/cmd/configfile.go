package cmd

import (
	"os"
	"text/template"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/thingpilot/lorawan-node/internal/config"
)

const configTemplate = `[general]
# Log level
#
# debug=5, info=4, warning=3, error=2, fatal=1, panic=0
log_level={{ .General.LogLevel }}

# Log to syslog.
#
# When set to true, log messages are being written to syslog.
log_to_syslog={{ .General.LogToSyslog }}


# Device configuration.
[device]
# DevEUI of the device (hex encoded).
dev_eui="{{ .Device.DevEUIString }}"

# Device class.
#
# Valid options are: A, C. Class B is not supported.
class="{{ .Device.Class }}"

# Enable adaptive data-rate.
adr={{ .Device.ADR }}

# Board name (informational).
board="{{ .Device.Board }}"

  # Activation.
  [device.activation]
  # Activation mode.
  #
  # Valid options are:
  #  * OTAA: over-the-air activation using join_eui and app_key
  #  * ABP: activation by personalization using net_id, dev_addr and the session keys
  #  * NONE: use the credentials the MAC stack was provisioned with
  mode="{{ .Device.Activation.Mode }}"

  # JoinEUI (OTAA).
  join_eui="{{ .Device.Activation.JoinEUIString }}"

  # AppKey (OTAA).
  app_key="{{ .Device.Activation.AppKeyString }}"

  # NetID (ABP).
  net_id="{{ .Device.Activation.NetIDString }}"

  # DevAddr (ABP).
  dev_addr="{{ .Device.Activation.DevAddrString }}"

  # Network session key (ABP).
  nwk_s_key="{{ .Device.Activation.NwkSKeyString }}"

  # Application session key (ABP).
  app_s_key="{{ .Device.Activation.AppSKeyString }}"


# Session settings.
[session]
# Number of connect attempts before the join fails.
join_attempts={{ .Session.JoinAttempts }}

# Interval between two connect attempts.
join_retry_interval="{{ .Session.JoinRetryInterval }}"

# Max. time to wait for the join to complete.
join_timeout="{{ .Session.JoinTimeout }}"

# Number of send attempts when the MAC stack is temporarily unavailable
# (busy or duty-cycle restricted).
send_attempts={{ .Session.SendAttempts }}

# Interval between two send attempts.
send_retry_interval="{{ .Session.SendRetryInterval }}"

# Max. time to wait for the transmission to complete.
tx_timeout="{{ .Session.TXTimeout }}"

# Max. time to wait for the receive window to complete.
rx_timeout="{{ .Session.RXTimeout }}"

# Send confirmed uplinks.
confirmed_uplinks={{ .Session.ConfirmedUplinks }}

# Size of the MAC event queue. When full, the oldest event is dropped.
event_queue_size={{ .Session.EventQueueSize }}


# Clock synchronization.
[clock_sync]
# Number of time-request attempts.
attempts={{ .ClockSync.Attempts }}

# Interval between two time-request attempts.
retry_interval="{{ .ClockSync.RetryInterval }}"

# Fixed offset added to the received time to compensate for the
# transmission latency.
skew="{{ .ClockSync.Skew }}"

# Interval between two clock synchronizations.
interval="{{ .ClockSync.Interval }}"

# Set the system time (requires CAP_SYS_TIME). When false, the received
# time is only applied to the clock of the process.
set_system_time={{ .ClockSync.SetSystemTime }}


# Duty-cycle settings.
[node]
# Port of the status uplink (1 - 219).
uplink_port={{ .Node.UplinkPort }}

# Interval between two duty-cycles. A schedule received on the scheduler
# port overrides this value.
uplink_interval="{{ .Node.UplinkInterval }}"

# Put the radio to sleep and disconnect at the end of every duty-cycle.
sleep={{ .Node.Sleep }}


# MAC stack backend configuration.
[backend]
# Backend type.
#
# Valid options are:
#   * mqtt
#   * amqp
type="{{ .Backend.Type }}"

  # MQTT backend.
  [backend.mqtt]
  # MQTT server (e.g. scheme://host:port where scheme is tcp, ssl or ws)
  server="{{ .Backend.MQTT.Server }}"

  # Connect with the given username (optional)
  username="{{ .Backend.MQTT.Username }}"

  # Connect with the given password (optional)
  password="{{ .Backend.MQTT.Password }}"

  # Maximum interval that will be waited between reconnection attempts when connection is lost.
  max_reconnect_interval="{{ .Backend.MQTT.MaxReconnectInterval }}"

  # Number of connect attempts when opening the backend. When all attempts
  # fail, the join fails with the last connect error.
  connect_attempts={{ .Backend.MQTT.ConnectAttempts }}

  # Timeout of a single connect attempt.
  connect_timeout="{{ .Backend.MQTT.ConnectTimeout }}"

  # Interval between connect attempts.
  connect_retry_interval="{{ .Backend.MQTT.ConnectRetryInterval }}"

  # Quality of service level
  #
  # 0: at most once
  # 1: at least once
  # 2: exactly once
  qos={{ .Backend.MQTT.QOS }}

  # Clean session
  clean_session={{ .Backend.MQTT.CleanSession }}

  # Client ID
  client_id="{{ .Backend.MQTT.ClientID }}"

  # CA certificate file (optional)
  ca_cert="{{ .Backend.MQTT.CACert }}"

  # TLS certificate file (optional)
  tls_cert="{{ .Backend.MQTT.TLSCert }}"

  # TLS key file (optional)
  tls_key="{{ .Backend.MQTT.TLSKey }}"

  # Event topic template.
  event_topic_template="{{ .Backend.MQTT.EventTopicTemplate }}"

  # Command topic template.
  command_topic_template="{{ .Backend.MQTT.CommandTopicTemplate }}"

  # AMQP backend.
  [backend.amqp]
  # Server URL.
  url="{{ .Backend.AMQP.URL }}"

  # Event queue name.
  event_queue_name="{{ .Backend.AMQP.EventQueueName }}"

  # Event routing-key template.
  event_routing_key_template="{{ .Backend.AMQP.EventRoutingKeyTemplate }}"

  # Command routing-key template.
  command_routing_key_template="{{ .Backend.AMQP.CommandRoutingKeyTemplate }}"


# Redis settings (used by the frame log).
[redis]
# Server address or addresses.
#
# Set multiple addresses when connecting to a cluster.
servers=[{{ range $index, $elm := .Redis.Servers }}
  "{{ $elm }}",{{ end }}
]

# Redis password.
password="{{ .Redis.Password }}"

# Database index.
#
# By default, this can be a number between 0-15.
database={{ .Redis.Database }}

# Redis Cluster.
cluster={{ .Redis.Cluster }}

# Master name.
#
# Set the master name when the servers are Redis Sentinel servers.
master_name="{{ .Redis.MasterName }}"

# Connection pool size.
#
# Default (when set to 0) is 10 connections per every CPU.
pool_size={{ .Redis.PoolSize }}

# TLS enabled.
tls_enabled={{ .Redis.TLSEnabled }}

# Key prefix.
key_prefix="{{ .Redis.KeyPrefix }}"


# Monitoring settings.
[monitoring]
# IP:port to bind the monitoring endpoint to.
#
# When left blank, the monitoring endpoint will be disabled.
bind="{{ .Monitoring.Bind }}"

# Prometheus metrics endpoint.
#
# When set to true, Prometheus metrics will be served at '/metrics'.
prometheus_endpoint={{ .Monitoring.PrometheusEndpoint }}

# Healthcheck endpoint.
#
# When set to true, the session state (and Redis status when the frame log
# is enabled) is reported at '/health'.
healthcheck_endpoint={{ .Monitoring.HealthcheckEndpoint }}

# Frame log.
#
# When set to true, every uplink and downlink is published to Redis.
frame_log={{ .Monitoring.FrameLog }}
`

var configCmd = &cobra.Command{
	Use:   "configfile",
	Short: "Print the LoRaWAN node configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		t := template.Must(template.New("config").Parse(configTemplate))
		err := t.Execute(os.Stdout, &config.C)
		if err != nil {
			return errors.Wrap(err, "execute config template error")
		}
		return nil
	},
}
