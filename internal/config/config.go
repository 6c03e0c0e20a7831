// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"strings"

	"authdispatch/internal/observability/logging"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// ErrNoConfigFile is returned by Watch when there is no file to watch
var ErrNoConfigFile = errors.New("no configuration file to watch")

// Load loads the configuration from all sources and returns the merged result.
// Keys the configuration structure does not know are rejected.
func Load(configPath string) (*Config, error) {
	v, err := newViper(configPath)
	if err != nil {
		return nil, err
	}
	return decode(v)
}

func newViper(configPath string) (*viper.Viper, error) {
	v := viper.New()

	// Set default values
	Settings.PopulateViperDefaults(v)

	// Set up environment variable handling
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	if err := Settings.BindEnv(v); err != nil {
		return nil, err
	}

	// Load from config file if specified
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return v, nil
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	err := v.Unmarshal(cfg, func(dc *mapstructure.DecoderConfig) {
		dc.ErrorUnused = true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	normalize(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	upstreamURL, err := url.Parse(cfg.Upstream.RawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream URL: %w", err)
	}
	cfg.Upstream.URL = upstreamURL

	return cfg, nil
}

// normalize lower-cases names that are map keys in the config file, since
// viper matches keys case-insensitively
func normalize(cfg *Config) {
	cfg.Auth.OAuth2.Storage = strings.ToLower(cfg.Auth.OAuth2.Storage)
	for i := range cfg.Rules {
		if cfg.Rules[i].Action == "" {
			cfg.Rules[i].Action = "auth"
		}
		for j, t := range cfg.Rules[i].AuthTypes {
			cfg.Rules[i].AuthTypes[j] = strings.ToLower(t)
		}
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate performs validation on a decoded configuration
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			msgs := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				msgs = append(msgs, fmt.Sprintf("%s failed on '%s'", strings.TrimPrefix(fe.Namespace(), "Config."), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := validateStorages(cfg.Auth.OAuth2.Storages); err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(cfg.Rules))
	for _, rule := range cfg.Rules {
		if _, dup := seen[rule.Name]; dup {
			return fmt.Errorf("invalid configuration: duplicate rule name %q", rule.Name)
		}
		seen[rule.Name] = struct{}{}
	}

	return nil
}

// validateStorages checks constraints between storage fields that struct tags cannot express
func validateStorages(storages map[string]StorageConfig) error {
	for name, s := range storages {
		switch s.Type {
		case "jwt":
			if s.HMACSecret == "" && s.PublicKeyFile == "" {
				return fmt.Errorf("invalid configuration: jwt storage %q requires hmac_secret or public_key_file", name)
			}
		case "introspection":
			if s.URL == "" {
				return fmt.Errorf("invalid configuration: introspection storage %q requires url", name)
			}
			if s.TokenURL != "" && s.ClientID == "" {
				return fmt.Errorf("invalid configuration: introspection storage %q requires client_id with token_url", name)
			}
		}
	}
	return nil
}

// Watch reloads the configuration file whenever it changes and passes each
// configuration that loads and validates to onChange. Invalid revisions are
// logged and skipped, leaving the previous configuration in effect.
func Watch(configPath string, logger *logging.Logger, onChange func(*Config)) error {
	if configPath == "" {
		return ErrNoConfigFile
	}
	if logger == nil {
		logger = logging.Discard()
	}
	logger = logger.WithModule("config")

	v, err := newViper(configPath)
	if err != nil {
		return err
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		logger.Info("Configuration file changed", "file", e.Name, "op", e.Op.String())

		cfg, err := Load(configPath)
		if err != nil {
			logger.Error("Failed to reload configuration, keeping previous one", logging.Err(err))
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()

	logger.Debug("Watching configuration file", "file", configPath)
	return nil
}
