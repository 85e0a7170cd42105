package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Portal   PortalConfig   `yaml:"portal" mapstructure:"portal"`
	Pipeline PipelineConfig `yaml:"pipeline" mapstructure:"pipeline"`
	Agents   AgentsConfig   `yaml:"agents" mapstructure:"agents"`
	Export   ExportConfig   `yaml:"export" mapstructure:"export"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the local record database.
type StoreConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PortalConfig configures the remote lookup portal driver.
type PortalConfig struct {
	BaseURL       string `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs   int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	LookupDelayMS int    `yaml:"lookup_delay_ms" mapstructure:"lookup_delay_ms"`
	SnapshotDir   string `yaml:"snapshot_dir" mapstructure:"snapshot_dir"`
	LookupRetries int    `yaml:"lookup_retries" mapstructure:"lookup_retries"`
	ReplayFixture string `yaml:"replay_fixture" mapstructure:"replay_fixture"`
}

// PipelineConfig configures batch processing.
type PipelineConfig struct {
	DefaultCredits int `yaml:"default_credits" mapstructure:"default_credits"`
}

// AgentsConfig configures the agent registry.
type AgentsConfig struct {
	RegistryPath string `yaml:"registry_path" mapstructure:"registry_path"`
}

// ExportConfig configures spreadsheet output.
type ExportConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from config.yaml and AEGIS_* environment
// variables.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("AEGIS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	applyDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

func applyDefaults(v *viper.Viper) {
	v.SetDefault("store.path", "aegis.db")
	v.SetDefault("portal.base_url", "https://app.thevirtualagent.co.za")
	v.SetDefault("portal.timeout_secs", 30)
	v.SetDefault("portal.lookup_delay_ms", 500)
	v.SetDefault("portal.snapshot_dir", "snapshots")
	v.SetDefault("portal.lookup_retries", 2)
	v.SetDefault("pipeline.default_credits", 100)
	v.SetDefault("agents.registry_path", "agents.json")
	v.SetDefault("export.dir", ".")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// Validate checks the loaded configuration for values no command could run
// with.
func (c *Config) Validate() error {
	var problems []string
	if c.Store.Path == "" {
		problems = append(problems, "store.path is required")
	}
	if c.Portal.BaseURL == "" {
		problems = append(problems, "portal.base_url is required")
	}
	if c.Portal.TimeoutSecs <= 0 {
		problems = append(problems, "portal.timeout_secs must be > 0")
	}
	if c.Portal.LookupRetries < 1 {
		problems = append(problems, "portal.lookup_retries must be >= 1")
	}
	if c.Pipeline.DefaultCredits < 0 {
		problems = append(problems, "pipeline.default_credits must be >= 0")
	}
	if c.Agents.RegistryPath == "" {
		problems = append(problems, "agents.registry_path is required")
	}
	if len(problems) > 0 {
		return eris.New("config validation failed: " + strings.Join(problems, "; "))
	}
	return nil
}

// Default returns the configuration Load yields with no file and no
// environment overrides. `config init` renders it to disk.
func Default() *Config {
	v := viper.New()
	applyDefaults(v)
	var cfg Config
	// Defaults always unmarshal cleanly.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
