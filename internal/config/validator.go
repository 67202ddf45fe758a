package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// RegisterCustomValidators registers ToolBridge-specific validation rules.
// Must be called before validating Config.
func RegisterCustomValidators(v *validator.Validate) error {
	// store_path: validates ":memory:" or a non-empty file path
	if err := v.RegisterValidation("store_path", validateStorePath); err != nil {
		return fmt.Errorf("failed to register store_path validator: %w", err)
	}
	return nil
}

// validateStorePath validates the store path field.
// Valid values: ":memory:" or any non-empty file path.
func validateStorePath(fl validator.FieldLevel) bool {
	path := fl.Field().String()
	if path == ":memory:" {
		return true
	}
	return path != "" && !strings.ContainsRune(path, 0)
}

// Validate validates the Config using struct tags and custom cross-field
// rules. Returns an error if validation fails, with actionable messages.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if err := c.validateSecrets(); err != nil {
		return err
	}
	if err := c.validateTLSPair(); err != nil {
		return err
	}
	if err := c.validateDurations(); err != nil {
		return err
	}

	return nil
}

// validateSecrets ensures the signing secret exists outside dev mode. The
// min length is enforced by the struct tag; this catches absence.
func (c *Config) validateSecrets() error {
	if c.Auth.SigningSecret == "" && !c.DevMode {
		return errors.New("auth.signing_secret is required (or run with dev_mode: true)")
	}
	return nil
}

// validateTLSPair ensures TLS cert and key are set together.
func (c *Config) validateTLSPair() error {
	hasCert := c.Server.TLSCertFile != ""
	hasKey := c.Server.TLSKeyFile != ""
	if hasCert != hasKey {
		return errors.New("server: tls_cert_file and tls_key_file must be set together")
	}
	return nil
}

// validateDurations parses the string duration fields once so a typo fails
// at startup instead of at first use.
func (c *Config) validateDurations() error {
	if _, err := time.ParseDuration(c.Upstream.Timeout); err != nil {
		return fmt.Errorf("upstream.timeout: %w", err)
	}
	return nil
}

// UpstreamTimeout returns the parsed upstream timeout. Validate must have
// succeeded first.
func (c *Config) UpstreamTimeout() time.Duration {
	d, err := time.ParseDuration(c.Upstream.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// formatValidationErrors converts validator.ValidationErrors to user-friendly messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

// formatSingleValidationError creates a user-friendly message for a single validation error.
func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	tag := e.Tag()

	switch tag {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "store_path":
		return fmt.Sprintf("%s must be ':memory:' or a file path", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, tag)
	}
}
