// Package config defines the send worker's configuration. It is loaded
// once at process initialization (Lambda cold start) and immutable
// thereafter, following 12-Factor principles: values come from the OS
// environment, optionally seeded from a .env file for local development.
// Any missing required value or invalid format fails the cold start.
package config

import (
	"time"

	"courier/internal/types"
)

// SecretString re-exports the redacted secret type used for sensitive
// configuration values.
type SecretString = types.SecretString

// Config is the top-level configuration struct for the send worker.
type Config struct {
	Environment string `envconfig:"APP_ENV" default:"prod" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"courier-send-worker"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	Send     SendConfig
	Database DatabaseConfig
	AWS      AWSConfig
	Provider ProviderConfig
}

// SendConfig holds the orchestration knobs.
type SendConfig struct {
	// MaxAttempts is the transport attempt budget per invocation before an
	// all-rate-limited run is declared Throttled (or a non-429 failure is
	// declared Failed).
	MaxAttempts int `envconfig:"MAX_SEND_ATTEMPTS" default:"5" validate:"min=1"`

	// RetryDelaySeconds is used both for the global throttle deadline and
	// for per-job requeue delays. Fractional seconds are allowed.
	RetryDelaySeconds float64 `envconfig:"SEND_RETRY_DELAY_SECONDS" default:"660" validate:"gt=0"`
}

// RetryDelay returns the configured retry delay as a duration.
func (c SendConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySeconds * float64(time.Second))
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns        int32         `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns        int32         `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// SendQueueURL is the SQS queue this worker consumes and requeues to.
	SendQueueURL string `envconfig:"SQS_SEND_QUEUE" validate:"required,url"`

	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"Courier"`

	// EndpointURL overrides the AWS endpoint for LocalStack. Empty in prod.
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// ProviderConfig holds settings for the outbound provider API client.
type ProviderConfig struct {
	UserAgent string        `envconfig:"PROVIDER_USER_AGENT" default:"Courier-Send/1.0"`
	Timeout   time.Duration `envconfig:"PROVIDER_TIMEOUT" default:"10s"`

	// MaxRedirects bounds how many redirects a provider response may chain
	// before the request is abandoned.
	MaxRedirects int `envconfig:"PROVIDER_MAX_REDIRECTS" default:"5" validate:"min=0"`
}
