package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	envConfigDefaultPath = "MCHAT_CONFIG_DEFAULT_PATH"
	defaultConfigName    = "config.yaml"
	defaultClientName    = "client.yaml"

	envPrefix       = "MCHAT"
	clientEnvPrefix = "MCHAT_CLIENT"
)

// Load builds server configuration from defaults, optional config file, env vars, and returns the resolved path.
// Precedence: defaults < config file < env vars < caller overrides.
func Load(logger *zerolog.Logger, explicitPath string) (Config, string, error) {
	cfg := Default()
	v := newViper(envPrefix, map[string]any{
		"addr":                cfg.Addr,
		"admin_addr":          cfg.AdminAddr,
		"database_path":       cfg.DatabasePath,
		"log_level":           cfg.LogLevel,
		"log_format":          cfg.LogFormat,
		"poll_interval":       cfg.PollInterval,
		"heartbeat_interval":  cfg.HeartbeatInterval,
		"receive_timeout":     cfg.ReceiveTimeout,
		"io_slice":            cfg.IOSlice,
		"io_timeout":          cfg.IOTimeout,
		"outbound_queue":      cfg.OutboundQueue,
		"api_rate_limit":      cfg.APIRateLimit,
		"read_header_timeout": cfg.ReadHeaderTimeout,
		"shutdown_timeout":    cfg.ShutdownTimeout,
	})

	configPath := resolveConfigPath(explicitPath, defaultConfigName)
	if err := readConfig(logger, v, configPath, cfg); err != nil {
		return cfg, configPath, err
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, configPath, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, configPath, nil
}

// LoadClient is Load for the client, reading MCHAT_CLIENT_* env vars.
func LoadClient(logger *zerolog.Logger, explicitPath string) (ClientConfig, string, error) {
	cfg := DefaultClient()
	v := newViper(clientEnvPrefix, map[string]any{
		"server":             cfg.Server,
		"name":               cfg.Name,
		"cache_path":         cfg.CachePath,
		"log_level":          cfg.LogLevel,
		"log_format":         cfg.LogFormat,
		"poll_interval":      cfg.PollInterval,
		"heartbeat_interval": cfg.HeartbeatInterval,
		"connect_timeout":    cfg.ConnectTimeout,
		"connect_retry":      cfg.ConnectRetry,
		"reconnect_backoff":  cfg.ReconnectBackoff,
		"io_slice":           cfg.IOSlice,
		"io_timeout":         cfg.IOTimeout,
	})

	configPath := resolveConfigPath(explicitPath, defaultClientName)
	if err := readConfig(logger, v, configPath, cfg); err != nil {
		return cfg, configPath, err
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, configPath, fmt.Errorf("unmarshal client config: %w", err)
	}
	return cfg, configPath, nil
}

func newViper(prefix string, defaults map[string]any) *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(prefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// readConfig reads path into v, writing defaults there first if it is missing.
func readConfig(logger *zerolog.Logger, v *viper.Viper, path string, defaults any) error {
	v.SetConfigFile(path)

	err := v.ReadInConfig()
	if err == nil {
		return nil
	}
	var notFound viper.ConfigFileNotFoundError
	if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("read config: %w", err)
	}

	if writeErr := writeDefaultConfig(path, defaults); writeErr != nil {
		if logger != nil {
			logger.Warn().Err(writeErr).Str("path", path).Msg("failed to write default config")
		}
		return nil
	}
	if logger != nil {
		logger.Info().Str("path", path).Msg("created default config")
	}
	// try reading again in case it was just written
	if readErr := v.ReadInConfig(); readErr != nil && logger != nil {
		logger.Warn().Err(readErr).Str("path", path).Msg("failed to read config after writing default")
	}
	return nil
}

func resolveConfigPath(explicitPath, name string) string {
	if explicitPath != "" {
		return explicitPath
	}

	if base := os.Getenv(envConfigDefaultPath); base != "" {
		if err := os.MkdirAll(base, 0o755); err == nil {
			return filepath.Join(base, name)
		}
	}

	cwd, err := os.Getwd()
	if err != nil {
		return name
	}
	return filepath.Join(cwd, name)
}

func writeDefaultConfig(path string, cfg any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
