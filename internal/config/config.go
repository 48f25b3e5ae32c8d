package config

import "time"

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	AdminAddr         string        `mapstructure:"admin_addr" yaml:"admin_addr"`
	DatabasePath      string        `mapstructure:"database_path" yaml:"database_path"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`
	LogFormat         string        `mapstructure:"log_format" yaml:"log_format"`
	PollInterval      time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" yaml:"heartbeat_interval"`
	ReceiveTimeout    time.Duration `mapstructure:"receive_timeout" yaml:"receive_timeout"`
	IOSlice           time.Duration `mapstructure:"io_slice" yaml:"io_slice"`
	IOTimeout         time.Duration `mapstructure:"io_timeout" yaml:"io_timeout"`
	OutboundQueue     int           `mapstructure:"outbound_queue" yaml:"outbound_queue"`
	APIRateLimit      int           `mapstructure:"api_rate_limit" yaml:"api_rate_limit"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":28859",
		AdminAddr:         ":28860",
		DatabasePath:      "mchat.db",
		LogLevel:          "info",
		LogFormat:         "console",
		PollInterval:      100 * time.Millisecond,
		HeartbeatInterval: 5 * time.Second,
		ReceiveTimeout:    15 * time.Second,
		IOSlice:           250 * time.Millisecond,
		IOTimeout:         10 * time.Second,
		OutboundQueue:     256,
		APIRateLimit:      600,
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.AdminAddr != "" {
		c.AdminAddr = other.AdminAddr
	}
	if other.DatabasePath != "" {
		c.DatabasePath = other.DatabasePath
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.LogFormat != "" {
		c.LogFormat = other.LogFormat
	}
	if other.PollInterval != 0 {
		c.PollInterval = other.PollInterval
	}
	if other.HeartbeatInterval != 0 {
		c.HeartbeatInterval = other.HeartbeatInterval
	}
	if other.ReceiveTimeout != 0 {
		c.ReceiveTimeout = other.ReceiveTimeout
	}
	if other.IOSlice != 0 {
		c.IOSlice = other.IOSlice
	}
	if other.IOTimeout != 0 {
		c.IOTimeout = other.IOTimeout
	}
	if other.OutboundQueue != 0 {
		c.OutboundQueue = other.OutboundQueue
	}
	if other.APIRateLimit != 0 {
		c.APIRateLimit = other.APIRateLimit
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
}

// ClientConfig holds client runtime configuration values.
type ClientConfig struct {
	Server            string        `mapstructure:"server" yaml:"server"`
	Name              string        `mapstructure:"name" yaml:"name"`
	CachePath         string        `mapstructure:"cache_path" yaml:"cache_path"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`
	LogFormat         string        `mapstructure:"log_format" yaml:"log_format"`
	PollInterval      time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" yaml:"heartbeat_interval"`
	ConnectTimeout    time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
	ConnectRetry      time.Duration `mapstructure:"connect_retry" yaml:"connect_retry"`
	ReconnectBackoff  time.Duration `mapstructure:"reconnect_backoff" yaml:"reconnect_backoff"`
	IOSlice           time.Duration `mapstructure:"io_slice" yaml:"io_slice"`
	IOTimeout         time.Duration `mapstructure:"io_timeout" yaml:"io_timeout"`
}

// DefaultClient returns client configuration with reasonable starter defaults.
func DefaultClient() ClientConfig {
	return ClientConfig{
		Server:            "localhost:28859",
		CachePath:         "mchat-cache.db",
		LogLevel:          "warn",
		LogFormat:         "console",
		PollInterval:      50 * time.Millisecond,
		HeartbeatInterval: 5 * time.Second,
		ConnectTimeout:    5 * time.Second,
		ConnectRetry:      250 * time.Millisecond,
		ReconnectBackoff:  time.Second,
		IOSlice:           250 * time.Millisecond,
		IOTimeout:         10 * time.Second,
	}
}
