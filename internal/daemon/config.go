package daemon

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/eliteGoblin/focusd/automute/internal/domain"
	"github.com/eliteGoblin/focusd/automute/internal/infra"
)

// envPrefix is prepended to every variable, e.g. AUTOMUTE_DATA_DIR.
const envPrefix = "automute"

// Config holds daemon runtime settings.
type Config struct {
	DataDir       string        `envconfig:"DATA_DIR"`
	ConfigFile    string        `envconfig:"CONFIG_FILE"`
	LogLevel      string        `envconfig:"LOG_LEVEL" default:"info"`
	PollInterval  time.Duration `envconfig:"POLL_INTERVAL" default:"250ms"`
	MetricsAddr   string        `envconfig:"METRICS_ADDR"`
	ExcludedPaths []string      `envconfig:"EXCLUDED_PATHS" default:"/usr/bin/gnome-shell"`
	DryRun        bool          `envconfig:"DRY_RUN" default:"false"`
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.PollInterval <= 0 {
		return Config{}, fmt.Errorf("poll interval must be positive, got %s", cfg.PollInterval)
	}
	return cfg, nil
}

// Paths resolves file locations, honouring DataDir and ConfigFile overrides.
func (c Config) Paths() infra.Paths {
	defaults := infra.DefaultPaths()
	dataDir := defaults.DataDir
	if c.DataDir != "" {
		dataDir = c.DataDir
	}
	configDir := defaults.ConfigDir
	if c.ConfigFile != "" {
		configDir = filepath.Dir(c.ConfigFile)
	}
	return infra.ResolvePaths(dataDir, configDir, c.ConfigFile)
}

// Excluded returns ExcludedPaths as program paths.
func (c Config) Excluded() []domain.ProgramPath {
	out := make([]domain.ProgramPath, 0, len(c.ExcludedPaths))
	for _, p := range c.ExcludedPaths {
		if p != "" {
			out = append(out, domain.ProgramPath(p))
		}
	}
	return out
}
