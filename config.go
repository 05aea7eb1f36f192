package fedagg

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pelletier/go-toml"
)

const EnvPrefix = "FEDAGG_"

var (
	errEmptyModelsDir = errors.New("models_dir is required")
	errEmptyOutput    = errors.New("output is required")
	errWorkers        = errors.New("workers must be at least 1")
	errTraceRatio     = errors.New("trace_ratio must be between 0 and 1")
	errQoS            = errors.New("mqtt qos must be 0, 1 or 2")
	errOCILayout      = errors.New("oci.repository requires oci.layout_dir")
	errMQTTTimeout    = errors.New("mqtt timeout must be positive")
)

type Config struct {
	ModelsDir      string     `toml:"models_dir"      env:"MODELS_DIR"`
	Output         string     `toml:"output"          env:"OUTPUT"`
	LogLevel       string     `toml:"log_level"       env:"LOG_LEVEL"`
	Workers        int        `toml:"workers"         env:"WORKERS"`
	LatestPerNode  bool       `toml:"latest_per_node" env:"LATEST_PER_NODE"`
	PushgatewayURL string     `toml:"pushgateway_url" env:"PUSHGATEWAY_URL"`
	OTELURL        string     `toml:"otel_url"        env:"OTEL_URL"`
	TraceRatio     float64    `toml:"trace_ratio"     env:"TRACE_RATIO"`
	OCI            OCIConfig  `toml:"oci"             envPrefix:"OCI_"`
	MQTT           MQTTConfig `toml:"mqtt"            envPrefix:"MQTT_"`
}

type OCIConfig struct {
	LayoutDir  string `toml:"layout_dir" env:"LAYOUT_DIR"`
	Repository string `toml:"repository" env:"REPOSITORY"`
	Tag        string `toml:"tag"        env:"TAG"`
	PlainHTTP  bool   `toml:"plain_http" env:"PLAIN_HTTP"`
	Username   string `toml:"username"   env:"USERNAME"`
	Password   string `toml:"password"   env:"PASSWORD"`
}

type MQTTConfig struct {
	Address  string        `toml:"address"   env:"ADDRESS"`
	Topic    string        `toml:"topic"     env:"TOPIC"`
	QoS      uint8         `toml:"qos"       env:"QOS"`
	Timeout  time.Duration `toml:"timeout"   env:"TIMEOUT"`
	ClientID string        `toml:"client_id" env:"CLIENT_ID"`
	Username string        `toml:"username"  env:"USERNAME"`
	Password string        `toml:"password"  env:"PASSWORD"`
}

func DefaultConfig() Config {
	return Config{
		ModelsDir:  "/data/models/edge_trained",
		Output:     "/data/models/aggregated_global.pt",
		LogLevel:   "info",
		Workers:    1,
		TraceRatio: 1.0,
		MQTT: MQTTConfig{
			Topic:    "fl/aggregations/completed",
			QoS:      1,
			Timeout:  30 * time.Second,
			ClientID: "fedagg",
		},
	}
}

// LoadConfig layers the TOML file at path, when given, and then FEDAGG_
// environment variables over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("error reading config file: %w", err)
		}

		tree, err := toml.Load(string(data))
		if err != nil {
			return Config{}, fmt.Errorf("error parsing config file: %w", err)
		}

		if err := tree.Unmarshal(&cfg); err != nil {
			return Config{}, fmt.Errorf("error unmarshaling config: %w", err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("error loading environment: %w", err)
	}

	return cfg, nil
}

func (c Config) Validate() error {
	switch {
	case c.ModelsDir == "":
		return errEmptyModelsDir
	case c.Output == "":
		return errEmptyOutput
	case c.Workers < 1:
		return errWorkers
	case c.TraceRatio < 0 || c.TraceRatio > 1:
		return errTraceRatio
	case c.MQTT.QoS > 2:
		return errQoS
	case c.MQTT.Address != "" && c.MQTT.Timeout <= 0:
		return errMQTTTimeout
	case c.OCI.Repository != "" && c.OCI.LayoutDir == "":
		return errOCILayout
	}

	return nil
}
