// Package config loads mmate-http configuration and turns it into a handler chain.
//
// Configuration is loaded in layers:
//  1. Built-in defaults
//  2. YAML config file (explicit path, MMATE_HTTP_CONFIG env, ./mmate-http.yaml)
//  3. Environment variable overrides (MMATE_HTTP_ prefix)
//  4. File reference resolution (_file suffix)
//  5. Validation
//
// Interceptors are declared by name and built through a Registry, in the order
// they are listed. The first entry is the outermost interceptor.
package config

import "time"

// Config holds all configuration for an mmate-http client
type Config struct {
	Backend      BackendConfig       `yaml:"backend"`
	Interceptors []InterceptorConfig `yaml:"interceptors"`
	Log          LogConfig           `yaml:"log"`
	Locale       string              `yaml:"locale"` // default locale for plural resolution
	Tracing      TracingConfig       `yaml:"tracing"`
	Metrics      MetricsConfig       `yaml:"metrics"`
}

// BackendConfig selects and configures the terminal handler
type BackendConfig struct {
	Type string            `yaml:"type"` // "http" or "amqp", default: "http"
	HTTP HTTPBackendConfig `yaml:"http"`
	AMQP AMQPBackendConfig `yaml:"amqp"`
}

// HTTPBackendConfig configures the net/http backend
type HTTPBackendConfig struct {
	BaseURL   string        `yaml:"base_url"`
	Timeout   time.Duration `yaml:"timeout"`    // client timeout, 0 means none
	ChunkSize int           `yaml:"chunk_size"` // bytes per download progress event
}

// AMQPBackendConfig configures the AMQP request/reply backend
type AMQPBackendConfig struct {
	URL            string        `yaml:"url"`
	URLFile        string        `yaml:"url_file"` // _file variant for url
	Exchange       string        `yaml:"exchange"`
	RoutingKey     string        `yaml:"routing_key"` // default: "mmate.http.requests"
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	MaxReconnects  int           `yaml:"max_reconnects"` // -1 retries forever
}

// InterceptorConfig declares one interceptor by registered name
type InterceptorConfig struct {
	Name    string  `yaml:"name"`
	Options Options `yaml:"options"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error; default: info
	Format string `yaml:"format"` // text or json; default: text
}

// TracingConfig holds OpenTelemetry settings
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"` // OTLP gRPC, default: localhost:4317
	ServiceName string  `yaml:"service_name"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// MetricsConfig holds Prometheus endpoint settings
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"` // listen address, default: ":9090"
	Path    string `yaml:"path"`    // default: "/metrics"
}

// Defaults returns a Config with all default values filled in
func Defaults() Config {
	return Config{
		Backend: BackendConfig{
			Type: BackendHTTP,
			AMQP: AMQPBackendConfig{
				RoutingKey:     "mmate.http.requests",
				ReconnectDelay: 2 * time.Second,
				MaxReconnects:  -1,
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Locale: "en",
		Tracing: TracingConfig{
			ServiceName: "mmate-http",
		},
		Metrics: MetricsConfig{
			Address: ":9090",
			Path:    "/metrics",
		},
	}
}

// Backend types
const (
	BackendHTTP = "http"
	BackendAMQP = "amqp"
)
