package config

import (
	"errors"
	"fmt"

	"github.com/glimte/mmate-http/i18n"
)

// Validate checks the configuration for required fields and valid values.
// Every problem is reported, each with its field path.
func (c *Config) Validate() error {
	var errs []error

	switch c.Backend.Type {
	case BackendHTTP:
		if c.Backend.HTTP.Timeout < 0 {
			errs = append(errs, fmt.Errorf("backend.http.timeout must be >= 0, got %v", c.Backend.HTTP.Timeout))
		}
	case BackendAMQP:
		if c.Backend.AMQP.URL == "" {
			errs = append(errs, errors.New("backend.amqp.url or backend.amqp.url_file is required when backend.type is \"amqp\""))
		}
	default:
		errs = append(errs, fmt.Errorf("backend.type must be %q or %q, got %q", BackendHTTP, BackendAMQP, c.Backend.Type))
	}

	for i, ic := range c.Interceptors {
		if ic.Name == "" {
			errs = append(errs, fmt.Errorf("interceptors[%d].name is required", i))
		}
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level must be one of debug, info, warn, error, got %q", c.Log.Level))
	}

	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be \"text\" or \"json\", got %q", c.Log.Format))
	}

	if _, err := i18n.ParseLocale(c.Locale); err != nil {
		errs = append(errs, fmt.Errorf("locale: %w", err))
	}

	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		errs = append(errs, fmt.Errorf("tracing.sample_ratio must be within [0, 1], got %v", c.Tracing.SampleRatio))
	}

	return errors.Join(errs...)
}
