// Package config loads the hrefresolve binary's configuration from a YAML
// file, optional .env files and HREFRESOLVER_* environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"
	"time"

	"github.com/arloliu/fuda"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/mccutchen/hrefresolver/telemetry"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "HREFRESOLVER_"

// Config is the complete binary configuration. Zero values are replaced by
// the field's default.
type Config struct {
	LogLevel  string           `yaml:"log_level" env:"LOG_LEVEL" default:"info" validate:"oneof=trace debug info warn error"`
	Resolver  ResolverConfig   `yaml:"resolver"`
	Cache     CacheConfig      `yaml:"cache"`
	Telemetry telemetry.Config `yaml:"telemetry"`
	Server    ServerConfig     `yaml:"server"`
}

// ResolverConfig configures how hrefs are fetched.
type ResolverConfig struct {
	Timeout      time.Duration `yaml:"timeout" env:"TIMEOUT" default:"10s" validate:"gt=0"`
	MaxBodySize  fuda.ByteSize `yaml:"max_body_size" env:"MAX_BODY_SIZE" default:"33554432" validate:"gt=0"`
	MaxRedirects int           `yaml:"max_redirects" env:"MAX_REDIRECTS" default:"10" validate:"gte=0"`
	Retries      uint64        `yaml:"retries" env:"RETRIES" validate:"lte=10"`
	UserAgent    string        `yaml:"user_agent" env:"USER_AGENT"`

	// UnsafeDial allows hrefs to reach loopback, private and other
	// non-public addresses.
	UnsafeDial bool `yaml:"unsafe_dial" env:"UNSAFE_DIAL"`

	// ResourcesDir is where relative hrefs in local documents are looked
	// up. Empty means the directory holding the document.
	ResourcesDir string `yaml:"resources_dir" env:"RESOURCES_DIR"`

	// Options for the svg pipeline.
	Concurrency int `yaml:"concurrency" env:"CONCURRENCY" default:"4" validate:"gte=1"`
	MaxDepth    int `yaml:"max_depth" env:"MAX_DEPTH" default:"8" validate:"gte=0"`
	MaxResolves int `yaml:"max_resolves" env:"MAX_RESOLVES" default:"256" validate:"gte=1"`
}

// CacheConfig configures result caching. Caching is off unless a redis URL
// or a local cache size is given.
type CacheConfig struct {
	RedisURL  string        `yaml:"redis_url" env:"REDIS_URL" validate:"omitempty,url"`
	LocalSize int           `yaml:"local_size" env:"CACHE_LOCAL_SIZE" validate:"gte=0"`
	TTL       time.Duration `yaml:"ttl" env:"CACHE_TTL" default:"120h" validate:"gt=0"`
}

// Enabled reports whether any cache is configured.
func (c CacheConfig) Enabled() bool {
	return c.RedisURL != "" || c.LocalSize > 0
}

// ServerConfig configures the serve command.
type ServerConfig struct {
	Port            int           `yaml:"port" env:"PORT" default:"8080" validate:"gt=0,lte=65535"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT" default:"11s" validate:"gt=0"`
}

// Default returns a Config with every default applied.
func Default() *Config {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		panic(fmt.Sprintf("config: invalid defaults: %s", err))
	}
	return cfg
}

// Load builds a Config from the YAML file at path (skipped when path is
// empty), the given .env files and HREFRESOLVER_* environment variables,
// fills in defaults and validates the result. Missing .env files are
// ignored and never override variables already set.
func Load(fs afero.Fs, path string, envFiles ...string) (*Config, error) {
	var data []byte
	if path != "" {
		var err error
		data, err = afero.ReadFile(fs, path)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		if err := checkKnownFields(data); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	loader, err := fuda.New().
		FromBytes(data).
		WithEnvPrefix(EnvPrefix).
		WithDotEnvFiles(envFiles).
		WithValidator(validate).
		Build()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	cfg := &Config{}
	if err := loader.Load(cfg); err != nil {
		return nil, validationError(err)
	}
	return cfg, nil
}

// checkKnownFields rejects keys that do not map onto a Config field.
func checkKnownFields(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&Config{}); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks cfg against its validation rules, reporting fields by
// their YAML path.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return validationError(err)
	}
	return nil
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		msgs = append(msgs, fmt.Sprintf("%s: failed %s (got %v)", field, rule, fe.Value()))
	}
	return fmt.Errorf("config: invalid: %s", strings.Join(msgs, "; "))
}
