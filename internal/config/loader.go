package config

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"courier/internal/types"
)

// LoadConfig loads and validates the worker configuration.
//
// Sequence:
//  1. Force the process timezone to UTC to prevent deadline drift between
//     workers in different regions.
//  2. Load a .env file if present (non-fatal when missing).
//  3. Process envconfig struct tags to populate the Config struct.
//  4. Validate with go-playground/validator; any violation fails the cold
//     start.
func LoadConfig() (*Config, error) {
	time.Local = time.UTC

	// Local development convenience only; deployed environments rely on
	// real environment variables.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, types.NewAppError(types.ErrCodeConfigInvalid, "failed to process environment", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, types.NewAppError(types.ErrCodeConfigInvalid, "configuration validation failed", err)
	}

	return &cfg, nil
}
