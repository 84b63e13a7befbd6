package server

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the session server's configuration surface: bind
// address/port, admission-control limits, and keepalive timing.
type Config struct {
	BindAddress           string
	Port                  int
	MaxConnectionsPerDoc  int
	MaxTotalConnections   int
	PingIntervalSecs      int
	ConnectionTimeoutSecs int
}

// DefaultConfig returns the spec-mandated defaults.
func DefaultConfig() Config {
	return Config{
		BindAddress:           "0.0.0.0",
		Port:                  8080,
		MaxConnectionsPerDoc:  100,
		MaxTotalConnections:   1000,
		PingIntervalSecs:      30,
		ConnectionTimeoutSecs: 60,
	}
}

// SocketAddr renders BindAddress:Port.
func (c Config) SocketAddr() string {
	return fmt.Sprintf("%s:%d", c.BindAddress, c.Port)
}

// PingInterval returns PingIntervalSecs as a time.Duration.
func (c Config) PingInterval() time.Duration {
	return time.Duration(c.PingIntervalSecs) * time.Second
}

// ConnectionTimeout returns ConnectionTimeoutSecs as a time.Duration.
func (c Config) ConnectionTimeout() time.Duration {
	return time.Duration(c.ConnectionTimeoutSecs) * time.Second
}

// LoadConfig builds a Config by layering, in increasing priority:
// DefaultConfig(), an optional config file (YAML, name "crdtcollab",
// searched in configPaths), then CRDTCOLLAB_-prefixed environment
// variables (e.g. CRDTCOLLAB_PORT).
func LoadConfig(configPaths ...string) (Config, error) {
	v := viper.New()
	d := DefaultConfig()
	v.SetDefault("bind_address", d.BindAddress)
	v.SetDefault("port", d.Port)
	v.SetDefault("max_connections_per_doc", d.MaxConnectionsPerDoc)
	v.SetDefault("max_total_connections", d.MaxTotalConnections)
	v.SetDefault("ping_interval_secs", d.PingIntervalSecs)
	v.SetDefault("connection_timeout_secs", d.ConnectionTimeoutSecs)

	v.SetConfigName("crdtcollab")
	v.SetConfigType("yaml")
	for _, p := range configPaths {
		v.AddConfigPath(p)
	}
	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return Config{}, fmt.Errorf("server: read config file: %w", err)
		}
	}

	v.SetEnvPrefix("crdtcollab")
	v.AutomaticEnv()

	return Config{
		BindAddress:           v.GetString("bind_address"),
		Port:                  v.GetInt("port"),
		MaxConnectionsPerDoc:  v.GetInt("max_connections_per_doc"),
		MaxTotalConnections:   v.GetInt("max_total_connections"),
		PingIntervalSecs:      v.GetInt("ping_interval_secs"),
		ConnectionTimeoutSecs: v.GetInt("connection_timeout_secs"),
	}, nil
}
