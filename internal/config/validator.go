package config

import (
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/Sentinel-Gate/inkgate/internal/domain/action"
)

// RegisterCustomValidators registers inkgate-specific validation rules.
// Must be called before validating Config.
func RegisterCustomValidators(v *validator.Validate) error {
	rules := map[string]validator.Func{
		"audit_output": validateAuditOutput,
		"duration":     validateDuration,
		"http_addr":    validateHTTPAddr,
	}
	for tag, fn := range rules {
		if err := v.RegisterValidation(tag, fn); err != nil {
			return fmt.Errorf("failed to register %s validator: %w", tag, err)
		}
	}
	return nil
}

// validateAuditOutput validates the audit output field.
// Valid values: "stdout", "file://<absolute-path>" or "sqlite://<absolute-path>"
func validateAuditOutput(fl validator.FieldLevel) bool {
	output := fl.Field().String()

	if output == "stdout" {
		return true
	}
	for _, scheme := range []string{"file://", "sqlite://"} {
		if strings.HasPrefix(output, scheme) {
			path := strings.TrimPrefix(output, scheme)
			return path != "" && filepath.IsAbs(path)
		}
	}
	return false
}

// validateDuration accepts positive Go durations ("90s", "5m", "1h30m").
func validateDuration(fl validator.FieldLevel) bool {
	d, err := time.ParseDuration(fl.Field().String())
	return err == nil && d > 0
}

// validateHTTPAddr accepts host:port or "off".
func validateHTTPAddr(fl validator.FieldLevel) bool {
	addr := fl.Field().String()
	if addr == "off" {
		return true
	}
	_, port, err := net.SplitHostPort(addr)
	return err == nil && port != ""
}

// Validate validates the Config using struct tags and custom cross-field rules.
// Returns an error if validation fails, with actionable error messages.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if err := c.validatePolicySource(); err != nil {
		return err
	}
	if err := c.validateLoopBounds(); err != nil {
		return err
	}
	if err := c.validateKinds(); err != nil {
		return err
	}
	return c.validateScores()
}

// validatePolicySource ensures exactly one of source_url or source_dir is set.
func (c *Config) validatePolicySource() error {
	hasURL := c.Policy.SourceURL != ""
	hasDir := c.Policy.SourceDir != ""

	if hasURL && hasDir {
		return errors.New("policy: specify source_url OR source_dir, not both")
	}
	if !hasURL && !hasDir {
		return errors.New("policy: one of source_url or source_dir is required")
	}

	seen := make(map[string]struct{}, len(c.Policy.Documents))
	for i, d := range c.Policy.Documents {
		if _, dup := seen[d.Name]; dup {
			return fmt.Errorf("policy.documents[%d]: duplicate name %q", i, d.Name)
		}
		seen[d.Name] = struct{}{}
	}
	return nil
}

// validateLoopBounds ensures interval does not exceed max_interval.
func (c *Config) validateLoopBounds() error {
	interval := Duration(c.Loop.Interval, 0)
	maxInterval := Duration(c.Loop.MaxInterval, 0)
	if interval > 0 && maxInterval > 0 && interval > maxInterval {
		return fmt.Errorf("loop: interval %s exceeds max_interval %s", c.Loop.Interval, c.Loop.MaxInterval)
	}
	return nil
}

// validateKinds ensures quota and score keys name known action kinds.
func (c *Config) validateKinds() error {
	for name := range c.Quotas {
		if _, ok := action.ParseKind(name); !ok {
			return fmt.Errorf("quotas: unknown action kind %q", name)
		}
	}
	for name := range c.Scores {
		if _, ok := action.ParseKind(name); !ok {
			return fmt.Errorf("scores: unknown action kind %q", name)
		}
	}
	return nil
}

// validateScores ensures every score value lies in [0,1].
func (c *Config) validateScores() error {
	for kind, dims := range c.Scores {
		for dim, v := range dims {
			if v < 0 || v > 1 {
				return fmt.Errorf("scores.%s.%s: %v is outside [0,1]", kind, dim, v)
			}
		}
	}
	return nil
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
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "http_addr":
		return fmt.Sprintf("%s must be a valid host:port or 'off'", field)
	case "duration":
		return fmt.Sprintf("%s must be a positive duration like '30s' or '5m'", field)
	case "audit_output":
		return fmt.Sprintf("%s must be 'stdout', 'file://<absolute-dir>' or 'sqlite://<absolute-path>'", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, tag)
	}
}
