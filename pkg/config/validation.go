package config

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// This function uses go-playground/validator for declarative validation
// via struct tags, with additional custom validation for rules that cannot
// be expressed in tags.
//
// Note: Log level normalization is handled in ApplyDefaults, not here.
// Validation accepts both uppercase and lowercase log levels.
func Validate(cfg *Config) error {
	// Run struct tag validation
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	// Custom validation rules that can't be expressed in tags
	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	// The root must not depend on the working directory
	if !filepath.IsAbs(cfg.Resources.Root) {
		return fmt.Errorf("resources.root: %q is not an absolute path", cfg.Resources.Root)
	}

	// A full read response must fit in one datagram
	if cfg.Resources.MaxReadSize >= cfg.Transport.MaxDatagramSize {
		return fmt.Errorf("resources.max_read_size (%d) must be smaller than transport.max_datagram_size (%d)",
			cfg.Resources.MaxReadSize, cfg.Transport.MaxDatagramSize)
	}
	if cfg.Resources.MaxWriteSize >= cfg.Transport.MaxDatagramSize {
		return fmt.Errorf("resources.max_write_size (%d) must be smaller than transport.max_datagram_size (%d)",
			cfg.Resources.MaxWriteSize, cfg.Transport.MaxDatagramSize)
	}

	for i, pattern := range cfg.Resources.Exclude {
		if pattern == "" {
			return fmt.Errorf("resources.exclude[%d]: pattern cannot be empty", i)
		}
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		// Return the first validation error with context
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
