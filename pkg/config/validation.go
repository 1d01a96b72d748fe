package config

import (
	"errors"
	"fmt"
	"path"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// Note: Log level normalization is handled in ApplyDefaults, not here.
// Validation accepts both uppercase and lowercase log levels.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	if cfg.Remote.Type == "s3" {
		if cfg.Remote.S3.Bucket == "" {
			return errors.New("remote.s3.bucket is required when remote.type is s3")
		}
		if cfg.Remote.S3.Region == "" {
			return errors.New("remote.s3.region is required when remote.type is s3")
		}
	}

	seen := make(map[string]bool, len(cfg.Exports))
	for i, p := range cfg.Exports {
		clean := path.Clean(p)
		if seen[clean] {
			return fmt.Errorf("exports[%d]: duplicate export %q", i, p)
		}
		seen[clean] = true
	}

	if cfg.Server.Group != "" && cfg.Server.User == "" {
		return errors.New("server.group requires server.user")
	}

	ports := map[int]string{}
	claim := func(port int, owner string) error {
		if port == 0 {
			return nil
		}
		if other, ok := ports[port]; ok {
			return fmt.Errorf("%s: port %d already used by %s", owner, port, other)
		}
		ports[port] = owner
		return nil
	}
	if err := claim(cfg.Adapters.NFS.Port, "adapters.nfs"); err != nil {
		return err
	}
	if err := claim(cfg.Adapters.Mount.Port, "adapters.mount"); err != nil {
		return err
	}
	if cfg.Portmap.Enabled && !cfg.Portmap.UseHost {
		if err := claim(cfg.Portmap.Port, "portmap"); err != nil {
			return err
		}
	}
	if cfg.Server.Metrics.Enabled {
		if err := claim(cfg.Server.Metrics.Port, "server.metrics"); err != nil {
			return err
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
