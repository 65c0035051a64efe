package pubsub

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cast"
)

// Environment variables read by LoadTracingConfigFromEnv.
const (
	EnvTracingEnabled        = "SCRIPTPROC_TRACING_ENABLED"
	EnvTracingServiceName    = "SCRIPTPROC_TRACING_SERVICE_NAME"
	EnvTracingServiceVersion = "SCRIPTPROC_TRACING_SERVICE_VERSION"
	EnvTracingZipkinURL      = "SCRIPTPROC_TRACING_ZIPKIN_URL"
)

var tracingValidate = validator.New()

// LoadTracingConfigFromEnv overlays the SCRIPTPROC_TRACING_* variables on
// DefaultTracingConfig and validates the result.
func LoadTracingConfigFromEnv() (TracingConfig, error) {
	config := DefaultTracingConfig()

	if v := os.Getenv(EnvTracingEnabled); v != "" {
		enabled, err := cast.ToBoolE(v)
		if err != nil {
			return config, fmt.Errorf("%s must be a boolean, got %q", EnvTracingEnabled, v)
		}
		config.Enabled = enabled
	}
	if v := os.Getenv(EnvTracingServiceName); v != "" {
		config.ServiceName = v
	}
	if v := os.Getenv(EnvTracingServiceVersion); v != "" {
		config.ServiceVersion = v
	}
	if v := os.Getenv(EnvTracingZipkinURL); v != "" {
		config.ZipkinURL = v
	}

	return config, config.Validate()
}

// Validate reports the first field that cannot configure an exporter. A
// disabled configuration is always valid.
func (c TracingConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if err := tracingValidate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("invalid tracing configuration: %s failed %q", verrs[0].Field(), verrs[0].Tag())
		}
		return fmt.Errorf("invalid tracing configuration: %w", err)
	}
	return nil
}
