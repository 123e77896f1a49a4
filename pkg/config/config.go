// Package config loads services/gateway.Config (and the broker, cache and
// distlock sub-configs it embeds) from environment variables or a .env
// file, using the same env/env-default struct tags every ambient-stack
// Config in this module carries.
package config

import (
	"github.com/go-playground/validator/v10"
	"github.com/ilyakaznacheev/cleanenv"

	"github.com/pybrook/pybrook/pkg/errors"
)

// Load populates cfg from a .env file if one is present, falling back to
// the process environment, then validates the result.
func Load[T any](cfg *T) error {
	if err := cleanenv.ReadConfig(".env", cfg); err != nil {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return errors.Wrap(err, "failed to read env config")
		}
	}

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return errors.Wrap(err, "config validation failed")
	}

	return nil
}
