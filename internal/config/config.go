package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"

	"github.com/nfrund/scriptproc/internal/pubsub"
)

// Config holds the host settings of the CLI. Command-line flags override it.
type Config struct {
	StageName     string
	Language      string
	ScriptsDir    string
	Mode          string
	OnRecordError string
	RecordType    string
	BatchSize     int
	Preview       bool
	// MaxExecutionTime bounds one script invocation; zero means unbounded.
	MaxExecutionTime time.Duration

	Tracing pubsub.TracingConfig
}

// Defaults used when neither the environment nor a flag sets a value.
const (
	DefaultStageName  = "script"
	DefaultScriptsDir = "scripts"
	DefaultMode       = "RECORD"
	DefaultOnError    = "TO_ERROR"
	DefaultRecordType = "NATIVE_OBJECTS"
	DefaultBatchSize  = 1000
)

// New loads configuration from a .env file, when present, and the
// SCRIPTPROC_* environment variables.
func New() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, relying on environment variables")
	}
	return FromEnv()
}

// FromEnv reads the SCRIPTPROC_* environment variables.
func FromEnv() (*Config, error) {
	cfg := &Config{
		StageName:     getenv("SCRIPTPROC_STAGE", DefaultStageName),
		Language:      os.Getenv("SCRIPTPROC_LANGUAGE"),
		ScriptsDir:    getenv("SCRIPTPROC_SCRIPTS_DIR", DefaultScriptsDir),
		Mode:          getenv("SCRIPTPROC_MODE", DefaultMode),
		OnRecordError: getenv("SCRIPTPROC_ON_ERROR", DefaultOnError),
		RecordType:    getenv("SCRIPTPROC_RECORD_TYPE", DefaultRecordType),
		BatchSize:     DefaultBatchSize,
	}

	tracing, err := pubsub.LoadTracingConfigFromEnv()
	if err != nil {
		return nil, err
	}
	cfg.Tracing = tracing

	if v := os.Getenv("SCRIPTPROC_BATCH_SIZE"); v != "" {
		n, err := cast.ToIntE(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("SCRIPTPROC_BATCH_SIZE must be a non-negative integer, got %q", v)
		}
		cfg.BatchSize = n
	}
	if v := os.Getenv("SCRIPTPROC_PREVIEW"); v != "" {
		preview, err := cast.ToBoolE(v)
		if err != nil {
			return nil, fmt.Errorf("SCRIPTPROC_PREVIEW must be a boolean, got %q", v)
		}
		cfg.Preview = preview
	}
	if v := os.Getenv("SCRIPTPROC_MAX_EXECUTION_TIME"); v != "" {
		d, err := cast.ToDurationE(v)
		if err != nil || d < 0 {
			return nil, fmt.Errorf("SCRIPTPROC_MAX_EXECUTION_TIME must be a non-negative duration, got %q", v)
		}
		cfg.MaxExecutionTime = d
	}
	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
