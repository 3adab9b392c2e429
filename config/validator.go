package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate is the global validator instance.
var validate *validator.Validate

func init() {
	validate = validator.New()

	// Register custom validators
	_ = validate.RegisterValidation("env", validateEnvironment)
	validate.RegisterStructValidation(validateStorage, StorageConfig{})
	validate.RegisterStructValidation(validateRedis, RedisConfig{})
	validate.RegisterStructValidation(validateTracing, TracingConfig{})
}

// ConfigError represents a validation error for a specific field.
type ConfigError struct {
	Field   string
	Message string
	Value   any
}

func (e ConfigError) Error() string {
	return fmt.Sprintf("%s: %s (got %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of config errors.
type ValidationErrors []ConfigError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}

	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")
	for _, err := range e {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// ValidateWithDetails performs validation and returns detailed errors.
func ValidateWithDetails(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			var details ValidationErrors
			for _, fe := range validationErrors {
				details = append(details, ConfigError{
					Field:   fe.Namespace(),
					Message: formatValidationError(fe),
					Value:   fe.Value(),
				})
			}
			return details
		}
		return err
	}
	return nil
}

// formatValidationError converts validator.FieldError to a human-readable message.
func formatValidationError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "required_with_backend":
		return fmt.Sprintf("is required for the %s backend", fe.Param())
	case "required_when_enabled":
		return "is required when enabled"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "env":
		return "must be one of [development staging production]"
	default:
		return fmt.Sprintf("failed validation: %s", fe.Tag())
	}
}

// validateEnvironment is a custom validator for environment values.
func validateEnvironment(fl validator.FieldLevel) bool {
	return slices.Contains([]string{"development", "staging", "production"}, fl.Field().String())
}

// validateStorage requires the path of the selected file-backed store.
func validateStorage(sl validator.StructLevel) {
	s := sl.Current().Interface().(StorageConfig)
	switch s.Type {
	case "badger":
		if strings.TrimSpace(s.Badger.Path) == "" {
			sl.ReportError(s.Badger.Path, "Badger.Path", "Path", "required_with_backend", "badger")
		}
	case "sqlite":
		if strings.TrimSpace(s.SQLite.Path) == "" {
			sl.ReportError(s.SQLite.Path, "SQLite.Path", "Path", "required_with_backend", "sqlite")
		}
	}
}

func validateRedis(sl validator.StructLevel) {
	r := sl.Current().Interface().(RedisConfig)
	if r.Enabled && strings.TrimSpace(r.Address) == "" {
		sl.ReportError(r.Address, "Address", "Address", "required_when_enabled", "")
	}
}

func validateTracing(sl validator.StructLevel) {
	t := sl.Current().Interface().(TracingConfig)
	if !t.Enabled {
		return
	}
	if strings.TrimSpace(t.Endpoint) == "" {
		sl.ReportError(t.Endpoint, "Endpoint", "Endpoint", "required_when_enabled", "")
	}
	if t.Timeout <= 0 {
		sl.ReportError(t.Timeout, "Timeout", "Timeout", "min", "1ns")
	}
}
