package config

import (
	"errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"time"
)

var _ Defaults = (*LogConfig)(nil)
var _ Defaults = (*HTTPConfig)(nil)
var _ Defaults = (*DatabaseConfig)(nil)
var _ Validator = (*LogConfig)(nil)
var _ Validator = (*DatabaseConfig)(nil)

type LogConfig struct {
	Level       string `config:"level"`
	Development bool   `config:"development"`
}

func (c LogConfig) Defaults() map[string]any {
	return map[string]any{
		"level":       "info",
		"development": false,
	}
}

func (c LogConfig) Validate() error {
	if _, err := zapcore.ParseLevel(c.Level); err != nil {
		return err
	}
	return nil
}

// Build creates the process logger.
func (c LogConfig) Build() (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if c.Development {
		zc = zap.NewDevelopmentConfig()
	}

	level, err := zapcore.ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	return zc.Build()
}

type HTTPConfig struct {
	Listen          string        `config:"listen"`
	CORSOrigins     []string      `config:"cors_origins"`
	ShutdownTimeout time.Duration `config:"shutdown_timeout"`
}

func (c HTTPConfig) Defaults() map[string]any {
	return map[string]any{
		"listen":           ":8080",
		"cors_origins":     []string{"*"},
		"shutdown_timeout": 30 * time.Second,
	}
}

type DatabaseConfig struct {
	Driver       string `config:"driver"`
	DSN          string `config:"dsn"`
	MaxOpenConns int    `config:"max_open_conns"`
	AutoMigrate  bool   `config:"auto_migrate"`
}

func (c DatabaseConfig) Defaults() map[string]any {
	return map[string]any{
		"driver":         "postgres",
		"max_open_conns": 10,
		"auto_migrate":   false,
	}
}

func (c DatabaseConfig) Validate() error {
	switch c.Driver {
	case "postgres", "sqlite":
	default:
		return errors.New("database.driver must be postgres or sqlite")
	}

	if c.DSN == "" {
		return errors.New("database.dsn is required")
	}

	return nil
}
