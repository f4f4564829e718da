package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks the configuration against its struct tags plus the
// rules that tags cannot express.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if cfg.Backup.Type == "s3" {
		if cfg.Backup.Options["bucket"] == nil || cfg.Backup.Options["bucket"] == "" {
			return fmt.Errorf("backup: s3 sink requires a bucket option")
		}
	}

	return nil
}

// formatValidationError converts validator errors into readable
// messages naming the offending field.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
