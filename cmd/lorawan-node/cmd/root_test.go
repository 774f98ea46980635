package cmd

import (
	"bytes"
	"testing"
	"text/template"

	"github.com/brocaar/lorawan"
	"github.com/stretchr/testify/require"

	"github.com/thingpilot/lorawan-node/internal/backend/mac"
	"github.com/thingpilot/lorawan-node/internal/config"
)

func TestDecodeCredentials(t *testing.T) {
	assert := require.New(t)

	var c config.Config
	c.Device.DevEUIString = "0102030405060708"
	c.Device.Activation.AppKeyString = "01020304050607080102030405060708"
	c.Device.Activation.NetIDString = "000013"
	c.Device.Activation.DevAddrString = "26011b01"

	assert.NoError(decodeCredentials(&c))
	assert.Equal(lorawan.EUI64{1, 2, 3, 4, 5, 6, 7, 8}, c.Device.DevEUI)
	assert.Equal(lorawan.AES128Key{1, 2, 3, 4, 5, 6, 7, 8, 1, 2, 3, 4, 5, 6, 7, 8}, c.Device.Activation.AppKey)
	assert.Equal(lorawan.NetID{0, 0, 0x13}, c.Device.Activation.NetID)
	assert.Equal(lorawan.DevAddr{0x26, 0x01, 0x1b, 0x01}, c.Device.Activation.DevAddr)
	assert.Equal(lorawan.EUI64{}, c.Device.Activation.JoinEUI)

	c.Device.Activation.NwkSKeyString = "zz"
	assert.Error(decodeCredentials(&c))
}

func TestConnectParams(t *testing.T) {
	tests := []struct {
		Name     string
		Mode     string
		AppKey   lorawan.AES128Key
		Expected mac.Activation
		Error    bool
	}{
		{
			Name:     "otaa",
			Mode:     "otaa",
			AppKey:   lorawan.AES128Key{1},
			Expected: mac.ActivationOTAA,
		},
		{
			Name:  "otaa without app key",
			Mode:  "OTAA",
			Error: true,
		},
		{
			Name:     "provisioned",
			Mode:     "none",
			Expected: mac.ActivationNone,
		},
		{
			Name:  "invalid mode",
			Mode:  "foo",
			Error: true,
		},
	}

	for _, tst := range tests {
		t.Run(tst.Name, func(t *testing.T) {
			assert := require.New(t)

			var c config.Config
			c.Device.DevEUI = lorawan.EUI64{1, 2, 3, 4, 5, 6, 7, 8}
			c.Device.Activation.Mode = tst.Mode
			c.Device.Activation.AppKey = tst.AppKey

			p, err := connectParams(c)
			if tst.Error {
				assert.Error(err)
				return
			}
			assert.NoError(err)
			assert.Equal(tst.Expected, p.Activation)
			assert.Equal(c.Device.DevEUI, p.OTAA.DevEUI)
		})
	}
}

func TestConfigTemplate(t *testing.T) {
	assert := require.New(t)

	var c config.Config
	c.Redis.Servers = []string{"localhost:6379"}
	c.Backend.Type = "mqtt"

	tmpl, err := template.New("config").Parse(configTemplate)
	assert.NoError(err)

	var buf bytes.Buffer
	assert.NoError(tmpl.Execute(&buf, &c))
	assert.Contains(buf.String(), `type="mqtt"`)
	assert.Contains(buf.String(), `"localhost:6379",`)
}
