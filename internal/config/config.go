package config

import (
	"time"

	"github.com/brocaar/lorawan"
)

// Version defines the LoRaWAN node version.
var Version string

// Config defines the configuration structure.
type Config struct {
	General struct {
		LogLevel    int  `mapstructure:"log_level"`
		LogToSyslog bool `mapstructure:"log_to_syslog"`
	} `mapstructure:"general"`

	Device struct {
		DevEUI       lorawan.EUI64 `mapstructure:"-"`
		DevEUIString string        `mapstructure:"dev_eui"`
		Class        string        `mapstructure:"class"`
		ADR          bool          `mapstructure:"adr"`
		Board        string        `mapstructure:"board"`

		Activation struct {
			Mode string `mapstructure:"mode"`

			JoinEUI       lorawan.EUI64     `mapstructure:"-"`
			JoinEUIString string            `mapstructure:"join_eui"`
			AppKey        lorawan.AES128Key `mapstructure:"-"`
			AppKeyString  string            `mapstructure:"app_key"`

			NetID         lorawan.NetID     `mapstructure:"-"`
			NetIDString   string            `mapstructure:"net_id"`
			DevAddr       lorawan.DevAddr   `mapstructure:"-"`
			DevAddrString string            `mapstructure:"dev_addr"`
			NwkSKey       lorawan.AES128Key `mapstructure:"-"`
			NwkSKeyString string            `mapstructure:"nwk_s_key"`
			AppSKey       lorawan.AES128Key `mapstructure:"-"`
			AppSKeyString string            `mapstructure:"app_s_key"`
		} `mapstructure:"activation"`
	} `mapstructure:"device"`

	Session struct {
		JoinAttempts      int           `mapstructure:"join_attempts"`
		JoinRetryInterval time.Duration `mapstructure:"join_retry_interval"`
		JoinTimeout       time.Duration `mapstructure:"join_timeout"`
		SendAttempts      int           `mapstructure:"send_attempts"`
		SendRetryInterval time.Duration `mapstructure:"send_retry_interval"`
		TXTimeout         time.Duration `mapstructure:"tx_timeout"`
		RXTimeout         time.Duration `mapstructure:"rx_timeout"`
		ConfirmedUplinks  bool          `mapstructure:"confirmed_uplinks"`
		EventQueueSize    int           `mapstructure:"event_queue_size"`
	} `mapstructure:"session"`

	ClockSync struct {
		Attempts      int           `mapstructure:"attempts"`
		RetryInterval time.Duration `mapstructure:"retry_interval"`
		Skew          time.Duration `mapstructure:"skew"`
		Interval      time.Duration `mapstructure:"interval"`
		SetSystemTime bool          `mapstructure:"set_system_time"`
	} `mapstructure:"clock_sync"`

	Node struct {
		UplinkPort     uint8         `mapstructure:"uplink_port"`
		UplinkInterval time.Duration `mapstructure:"uplink_interval"`
		Sleep          bool          `mapstructure:"sleep"`
	} `mapstructure:"node"`

	Backend struct {
		Type string `mapstructure:"type"`

		MQTT struct {
			Server               string        `mapstructure:"server"`
			Username             string        `mapstructure:"username"`
			Password             string        `mapstructure:"password"`
			MaxReconnectInterval time.Duration `mapstructure:"max_reconnect_interval"`
			ConnectAttempts      int           `mapstructure:"connect_attempts"`
			ConnectTimeout       time.Duration `mapstructure:"connect_timeout"`
			ConnectRetryInterval time.Duration `mapstructure:"connect_retry_interval"`
			QOS                  uint8         `mapstructure:"qos"`
			CleanSession         bool          `mapstructure:"clean_session"`
			ClientID             string        `mapstructure:"client_id"`
			CACert               string        `mapstructure:"ca_cert"`
			TLSCert              string        `mapstructure:"tls_cert"`
			TLSKey               string        `mapstructure:"tls_key"`
			EventTopicTemplate   string        `mapstructure:"event_topic_template"`
			CommandTopicTemplate string        `mapstructure:"command_topic_template"`
		} `mapstructure:"mqtt"`

		AMQP struct {
			URL                       string `mapstructure:"url"`
			EventQueueName            string `mapstructure:"event_queue_name"`
			EventRoutingKeyTemplate   string `mapstructure:"event_routing_key_template"`
			CommandRoutingKeyTemplate string `mapstructure:"command_routing_key_template"`
		} `mapstructure:"amqp"`
	} `mapstructure:"backend"`

	Redis struct {
		URL        string   `mapstructure:"url"` // deprecated
		Servers    []string `mapstructure:"servers"`
		Cluster    bool     `mapstructure:"cluster"`
		MasterName string   `mapstructure:"master_name"`
		PoolSize   int      `mapstructure:"pool_size"`
		Password   string   `mapstructure:"password"`
		Database   int      `mapstructure:"database"`
		TLSEnabled bool     `mapstructure:"tls_enabled"`
		KeyPrefix  string   `mapstructure:"key_prefix"`
	} `mapstructure:"redis"`

	Monitoring struct {
		Bind                string `mapstructure:"bind"`
		PrometheusEndpoint  bool   `mapstructure:"prometheus_endpoint"`
		HealthcheckEndpoint bool   `mapstructure:"healthcheck_endpoint"`
		FrameLog            bool   `mapstructure:"frame_log"`
	} `mapstructure:"monitoring"`
}

// C holds the global configuration.
var C Config
