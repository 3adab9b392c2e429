package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCustomEnvValidator(t *testing.T) {
	for _, env := range []string{"development", "staging", "production"} {
		cfg := DefaultConfig()
		cfg.App.Environment = env
		assert.NoError(t, ValidateWithDetails(cfg), env)
	}

	cfg := DefaultConfig()
	cfg.App.Environment = "local"
	err := ValidateWithDetails(cfg)
	if assert.Error(t, err) {
		assert.Contains(t, err.Error(), "must be one of [development staging production]")
	}
}

func TestFormatValidationError(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Port = 0
	cfg.Log.Level = "loud"
	cfg.Redis.Enabled = true
	cfg.Redis.Address = ""

	err := ValidateWithDetails(cfg)
	if !assert.Error(t, err) {
		return
	}
	msg := err.Error()
	assert.Contains(t, msg, "this field is required")
	assert.Contains(t, msg, "must be one of [debug info warn error]")
	assert.Contains(t, msg, "is required when enabled")
}
