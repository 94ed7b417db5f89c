package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Policy     PolicyConfig     `mapstructure:"policy"`
	Engine     EngineConfig     `mapstructure:"engine"`
	Log        LogConfig        `mapstructure:"log"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
}

type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"readTimeout"`
	WriteTimeout time.Duration `mapstructure:"writeTimeout"`
	IdleTimeout  time.Duration `mapstructure:"idleTimeout"`
}

type PolicyConfig struct {
	File string `mapstructure:"file"`
}

type EngineConfig struct {
	IdleThreshold     time.Duration `mapstructure:"idleThreshold"`
	SessionSweep      time.Duration `mapstructure:"sessionSweep"`
	Retention         time.Duration `mapstructure:"retention"`
	RetentionSweep    time.Duration `mapstructure:"retentionSweep"`
	AuditBuffer       int           `mapstructure:"auditBuffer"`
	TOTPIssuer        string        `mapstructure:"totpIssuer"`
	RecentAuthFailMax int           `mapstructure:"recentAuthFailMax"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type MonitoringConfig struct {
	MetricsPort string `mapstructure:"metricsPort"`
	HealthPort  string `mapstructure:"healthPort"`
}

type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	Environment string  `mapstructure:"environment"`
	SampleRate  float64 `mapstructure:"sampleRate"`
}

func LoadFromViper() (*Config, error) {
	setDefaults()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.readTimeout", "15s")
	viper.SetDefault("server.writeTimeout", "15s")
	viper.SetDefault("server.idleTimeout", "60s")

	viper.SetDefault("engine.idleThreshold", "30m")
	viper.SetDefault("engine.sessionSweep", "30s")
	viper.SetDefault("engine.retention", "2160h") // 90 days
	viper.SetDefault("engine.retentionSweep", "1h")
	viper.SetDefault("engine.auditBuffer", 1024)
	viper.SetDefault("engine.totpIssuer", "pam-core")
	viper.SetDefault("engine.recentAuthFailMax", 3)

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "json")

	viper.SetDefault("monitoring.metricsPort", "9090")
	viper.SetDefault("monitoring.healthPort", "8081")
}

func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return fmt.Errorf("server.port is required")
	}

	if cfg.Policy.File == "" {
		return fmt.Errorf("policy.file is required")
	}

	if cfg.Engine.AuditBuffer <= 0 {
		return fmt.Errorf("engine.auditBuffer must be positive")
	}

	return nil
}

func (c *Config) Port() string {
	return c.Server.Port
}

func (c *Config) PolicyFile() string {
	return c.Policy.File
}
