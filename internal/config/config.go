package config

import (
	"errors"
	"fmt"
	"github.com/hashicorp/go-multierror"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"os"
	"strings"
)

const EnvPrefix = "COINPAY_"

// Defaults is implemented by every config section that has default values. Keys are relative to the section.
type Defaults interface {
	Defaults() map[string]any
}

// Validator is implemented by config sections that can check themselves after loading.
type Validator interface {
	Validate() error
}

var _ Defaults = (*Config)(nil)
var _ Validator = (*Config)(nil)

type Config struct {
	Log        LogConfig        `config:"log"`
	HTTP       HTTPConfig       `config:"http"`
	Database   DatabaseConfig   `config:"database"`
	Monitor    MonitorConfig    `config:"monitor"`
	Forwarding ForwardingConfig `config:"forwarding"`
	Broadcast  BroadcastConfig  `config:"broadcast"`
	Webhook    WebhookConfig    `config:"webhook"`
	Chains     ChainsConfig     `config:"chains"`
	Internal   InternalConfig   `config:"internal"`
}

type InternalConfig struct {
	Token string `config:"token"`
}

func (c Config) sections() map[string]any {
	return map[string]any{
		"log":        c.Log,
		"http":       c.HTTP,
		"database":   c.Database,
		"monitor":    c.Monitor,
		"forwarding": c.Forwarding,
		"broadcast":  c.Broadcast,
		"webhook":    c.Webhook,
		"chains":     c.Chains,
		"internal":   c.Internal,
	}
}

func (c Config) Defaults() map[string]any {
	out := make(map[string]any)

	for prefix, section := range c.sections() {
		d, ok := section.(Defaults)
		if !ok {
			continue
		}
		for k, v := range d.Defaults() {
			out[prefix+"."+k] = v
		}
	}

	return out
}

func (c Config) Validate() error {
	var result *multierror.Error

	for prefix, section := range c.sections() {
		v, ok := section.(Validator)
		if !ok {
			continue
		}
		if err := v.Validate(); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", prefix, err))
		}
	}

	return result.ErrorOrNil()
}

// Load resolves the configuration once: defaults, then the optional YAML file at path, then
// COINPAY_ prefixed environment variables where "__" separates nesting levels.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	cfg := &Config{}

	if err := k.Load(confmap.Provider(cfg.Defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("load config file %s: %w", path, err)
			}
		}
	}

	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, EnvPrefix)
		return strings.ReplaceAll(strings.ToLower(s), "__", ".")
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "config"}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}
