package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the top-level configuration for the agent. One value is
// constructed at startup and passed explicitly to every component.
// Tags are used by Viper to map YAML keys to struct fields.
type Config struct {
	LogLevel string `mapstructure:"log_level"`
	Verbose  bool   `mapstructure:"verbose"`

	Server  ServerConfig  `mapstructure:"server"`
	DataDir string        `mapstructure:"data_dir"`
	Monitor MonitorConfig `mapstructure:"monitor"`
	Sampler SamplerConfig `mapstructure:"sampler"`
	Intel   IntelConfig   `mapstructure:"intel"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Hub     HubConfig     `mapstructure:"hub"`
}

// ServerConfig holds the listen address and optional TLS material for the
// websocket endpoint.
type ServerConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	CertFile string `mapstructure:"cert"`
	KeyFile  string `mapstructure:"key"`
}

// MonitorConfig controls the connection scan loop.
type MonitorConfig struct {
	ScanInterval    time.Duration `mapstructure:"scan_interval"`
	StaleScans      int           `mapstructure:"stale_scans"`
	EvictAfter      time.Duration `mapstructure:"evict_after"`
	AlertQueueSize  int           `mapstructure:"alert_queue_size"`
	ProcessTimeout  time.Duration `mapstructure:"process_timeout"`
	ResolverTimeout time.Duration `mapstructure:"resolver_timeout"`
	ResolverTTL     time.Duration `mapstructure:"resolver_ttl"`
}

// SamplerConfig controls per-endpoint traffic sampling.
type SamplerConfig struct {
	RingSize       int   `mapstructure:"ring_size"`
	EncryptedPorts []int `mapstructure:"encrypted_ports"`
}

// IntelConfig controls the threat-intelligence engine. SuspiciousPorts
// are added to the built-in set; AllowRoots are path prefixes considered
// legitimate binary locations.
type IntelConfig struct {
	SuspiciousPorts []int         `mapstructure:"suspicious_ports"`
	AllowRoots      []string      `mapstructure:"allow_roots"`
	ReloadInterval  time.Duration `mapstructure:"reload_interval"`
}

// MetricsConfig controls the system metrics collector.
type MetricsConfig struct {
	SampleInterval time.Duration `mapstructure:"sample_interval"`
	WindowSize     int           `mapstructure:"window_size"`
}

// HubConfig controls broadcast cadences and per-client backpressure.
type HubConfig struct {
	MetricsInterval     time.Duration `mapstructure:"metrics_interval"`
	ConnectionsInterval time.Duration `mapstructure:"connections_interval"`
	AlertFlushInterval  time.Duration `mapstructure:"alert_flush_interval"`
	QueueSoftLimit      int           `mapstructure:"queue_soft_limit"`
	QueueHardLimit      int           `mapstructure:"queue_hard_limit"`
	WriteTimeout        time.Duration `mapstructure:"write_timeout"`
	MaxFrameBytes       int64         `mapstructure:"max_frame_bytes"`
}

// LoadConfig reads the configuration from a YAML file and environment
// variables, then overlays any flags the caller has set. Viper handles
// defaults and NETVIGIL_ env overrides the same way the config file does.
func LoadConfig(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	configPath := "."
	if flags != nil {
		if f := flags.Lookup("config"); f != nil && f.Changed {
			v.SetConfigFile(f.Value.String())
			configPath = ""
		}
	}
	if configPath != "" {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(configPath)
		v.AddConfigPath("/etc/netvigil/")
	}

	setDefaults(v)

	v.SetEnvPrefix("NETVIGIL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if flags != nil {
		bindFlags(v, flags)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8765)
	v.SetDefault("data_dir", "./data")

	v.SetDefault("monitor.scan_interval", "2s")
	v.SetDefault("monitor.stale_scans", 3)
	v.SetDefault("monitor.evict_after", "5m")
	v.SetDefault("monitor.alert_queue_size", 1000)
	v.SetDefault("monitor.process_timeout", "200ms")
	v.SetDefault("monitor.resolver_timeout", "500ms")
	v.SetDefault("monitor.resolver_ttl", "5m")

	v.SetDefault("sampler.ring_size", 1000)
	v.SetDefault("sampler.encrypted_ports", []int{443, 8443, 22, 993, 995, 465, 587})

	v.SetDefault("intel.suspicious_ports", []int{})
	v.SetDefault("intel.allow_roots", []string{"/usr/bin", "/usr/sbin", "/usr/local/bin", "/bin", "/sbin", "/opt"})
	v.SetDefault("intel.reload_interval", "60s")

	v.SetDefault("metrics.sample_interval", "1s")
	v.SetDefault("metrics.window_size", 60)

	v.SetDefault("hub.metrics_interval", "1s")
	v.SetDefault("hub.connections_interval", "2s")
	v.SetDefault("hub.alert_flush_interval", "100ms")
	v.SetDefault("hub.queue_soft_limit", 100)
	v.SetDefault("hub.queue_hard_limit", 500)
	v.SetDefault("hub.write_timeout", "2s")
	v.SetDefault("hub.max_frame_bytes", 1<<20)
}

// bindFlags overlays CLI flags onto their config keys. Only flags the
// user actually set take precedence over the file and environment.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) {
	mapping := map[string]string{
		"host":     "server.host",
		"port":     "server.port",
		"cert":     "server.cert",
		"key":      "server.key",
		"data-dir": "data_dir",
		"verbose":  "verbose",
	}
	for name, key := range mapping {
		if f := flags.Lookup(name); f != nil && f.Changed {
			v.Set(key, f.Value.String())
		}
	}
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if (c.Server.CertFile == "") != (c.Server.KeyFile == "") {
		return fmt.Errorf("cert and key must be provided together")
	}
	if c.Monitor.ScanInterval <= 0 {
		return fmt.Errorf("monitor scan_interval must be positive")
	}
	if c.Sampler.RingSize <= 0 {
		return fmt.Errorf("sampler ring_size must be positive")
	}
	return nil
}

// ListenAddr returns the host:port pair for the websocket listener.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// TLSEnabled reports whether the hub should serve over TLS.
func (c *Config) TLSEnabled() bool {
	return c.Server.CertFile != "" && c.Server.KeyFile != ""
}
