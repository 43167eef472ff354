package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/npezzotti/go-attendance/internal/identity"
)

type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

func ValidDrivers() []string {
	return []string{DriverMemory, DriverFile, DriverRedis, DriverPostgres}
}

func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

func ValidLogFormats() []string {
	return []string{"text", "json"}
}

// Validate returns every invalid value in c.
func (c *Config) Validate() []ValidationError {
	var errs []ValidationError

	if c.ServerAddr == "" {
		errs = append(errs, ValidationError{Field: "addr", Value: c.ServerAddr, Message: "cannot be empty"})
	}
	if c.SigningSecret == "" {
		errs = append(errs, ValidationError{Field: "signing_key", Value: c.SigningSecret, Message: "cannot be empty"})
	} else if _, err := decodeSigningSecret(c.SigningSecret); err != nil {
		errs = append(errs, ValidationError{Field: "signing_key", Value: "<redacted>", Message: "must be base64 encoded"})
	}
	if c.TickInterval <= 0 {
		errs = append(errs, ValidationError{Field: "tick_interval", Value: c.TickInterval, Message: "must be positive"})
	}
	for _, id := range c.PrivilegedIDs {
		if !identity.ValidID(identity.NormalizeID(id)) {
			errs = append(errs, ValidationError{Field: "privileged_ids", Value: id, Message: "must look like NN-NNNN-NNNNNN"})
		}
	}

	errs = append(errs, c.validateStore()...)
	errs = append(errs, c.validateRemote()...)
	errs = append(errs, c.validateLog()...)

	return errs
}

func (c *Config) validateStore() []ValidationError {
	var errs []ValidationError

	switch c.Store.Driver {
	case DriverMemory:
	case DriverFile:
		if c.Store.Dir == "" {
			errs = append(errs, ValidationError{Field: "store.dir", Value: c.Store.Dir, Message: "cannot be empty for the file driver"})
		}
	case DriverRedis:
		if c.Store.RedisAddr == "" {
			errs = append(errs, ValidationError{Field: "store.redis_addr", Value: c.Store.RedisAddr, Message: "cannot be empty for the redis driver"})
		}
		if c.Store.RedisChannel == "" {
			errs = append(errs, ValidationError{Field: "store.redis_channel", Value: c.Store.RedisChannel, Message: "cannot be empty for the redis driver"})
		}
	case DriverPostgres:
		if c.Store.DSN == "" {
			errs = append(errs, ValidationError{Field: "store.dsn", Value: c.Store.DSN, Message: "cannot be empty for the postgres driver"})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "store.driver",
			Value:   c.Store.Driver,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidDrivers(), ", ")),
		})
	}

	return errs
}

func (c *Config) validateRemote() []ValidationError {
	var errs []ValidationError

	if c.Remote.URL != "" {
		u, err := url.Parse(c.Remote.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, ValidationError{Field: "remote.url", Value: c.Remote.URL, Message: "must be an absolute http(s) URL"})
		}
	}
	if c.Remote.ReadTimeout <= 0 {
		errs = append(errs, ValidationError{Field: "remote.read_timeout", Value: c.Remote.ReadTimeout, Message: "must be positive"})
	}
	if c.Remote.WriteTimeout <= 0 {
		errs = append(errs, ValidationError{Field: "remote.write_timeout", Value: c.Remote.WriteTimeout, Message: "must be positive"})
	}

	return errs
}

func (c *Config) validateLog() []ValidationError {
	var errs []ValidationError

	if !slices.Contains(ValidLogLevels(), c.Log.Level) {
		errs = append(errs, ValidationError{
			Field:   "log.level",
			Value:   c.Log.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}
	if !slices.Contains(ValidLogFormats(), c.Log.Format) {
		errs = append(errs, ValidationError{
			Field:   "log.format",
			Value:   c.Log.Format,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogFormats(), ", ")),
		})
	}

	return errs
}
