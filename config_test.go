package fedagg_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/absmach/fedagg"
	"github.com/absmach/fedagg/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
models_dir = "/srv/edge"
workers = 4
latest_per_node = true

[oci]
layout_dir = "/srv/oci"
tag = "round-7"

[mqtt]
address = "tcp://broker:1883"
timeout = "5s"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "fedagg.toml")
	testutil.WriteFile(t, path, []byte(body))

	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := fedagg.LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, fedagg.DefaultConfig(), cfg)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigFile(t *testing.T) {
	cfg, err := fedagg.LoadConfig(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "/srv/edge", cfg.ModelsDir)
	assert.Equal(t, 4, cfg.Workers)
	assert.True(t, cfg.LatestPerNode)
	assert.Equal(t, "/srv/oci", cfg.OCI.LayoutDir)
	assert.Equal(t, "round-7", cfg.OCI.Tag)
	assert.Equal(t, "tcp://broker:1883", cfg.MQTT.Address)
	assert.Equal(t, 5*time.Second, cfg.MQTT.Timeout)

	def := fedagg.DefaultConfig()
	assert.Equal(t, def.Output, cfg.Output, "unset keys keep their defaults")
	assert.Equal(t, def.MQTT.Topic, cfg.MQTT.Topic)
	assert.Equal(t, def.LogLevel, cfg.LogLevel)
}

func TestLoadConfigEnvOverridesFile(t *testing.T) {
	t.Setenv("FEDAGG_WORKERS", "8")
	t.Setenv("FEDAGG_OUTPUT", "/srv/global.pt")
	t.Setenv("FEDAGG_OCI_TAG", "round-8")
	t.Setenv("FEDAGG_MQTT_QOS", "2")

	cfg, err := fedagg.LoadConfig(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, "/srv/global.pt", cfg.Output)
	assert.Equal(t, "round-8", cfg.OCI.Tag)
	assert.Equal(t, "/srv/oci", cfg.OCI.LayoutDir)
	assert.Equal(t, uint8(2), cfg.MQTT.QoS)
	assert.Equal(t, "/srv/edge", cfg.ModelsDir)
}

func TestLoadConfigErrors(t *testing.T) {
	cases := []struct {
		desc string
		path string
	}{
		{desc: "missing file", path: filepath.Join(t.TempDir(), "absent.toml")},
		{desc: "invalid toml", path: writeConfig(t, "workers = [")},
		{desc: "wrong type", path: writeConfig(t, `workers = "many"`)},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			_, err := fedagg.LoadConfig(tc.path)
			assert.Error(t, err)
		})
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		desc   string
		mutate func(*fedagg.Config)
		valid  bool
	}{
		{desc: "defaults", mutate: func(*fedagg.Config) {}, valid: true},
		{desc: "no models dir", mutate: func(c *fedagg.Config) { c.ModelsDir = "" }},
		{desc: "no output", mutate: func(c *fedagg.Config) { c.Output = "" }},
		{desc: "zero workers", mutate: func(c *fedagg.Config) { c.Workers = 0 }},
		{desc: "trace ratio above one", mutate: func(c *fedagg.Config) { c.TraceRatio = 1.5 }},
		{desc: "qos out of range", mutate: func(c *fedagg.Config) { c.MQTT.QoS = 3 }},
		{desc: "mqtt zero timeout", mutate: func(c *fedagg.Config) { c.MQTT.Address = "tcp://localhost:1883"; c.MQTT.Timeout = 0 }},
		{desc: "mqtt negative timeout", mutate: func(c *fedagg.Config) { c.MQTT.Address = "tcp://localhost:1883"; c.MQTT.Timeout = -time.Second }},
		{desc: "zero timeout without broker", mutate: func(c *fedagg.Config) { c.MQTT.Timeout = 0 }, valid: true},
		{desc: "repository without layout", mutate: func(c *fedagg.Config) { c.OCI.Repository = "localhost:5000/fl/global" }},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			cfg := fedagg.DefaultConfig()
			tc.mutate(&cfg)
			if tc.valid {
				assert.NoError(t, cfg.Validate())
			} else {
				assert.Error(t, cfg.Validate())
			}
		})
	}
}
