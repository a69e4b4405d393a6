package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"kbpulse/internal/model"
)

const (
	configPathEnv = "KBPULSE_CONFIG"
	redisAddrEnv  = "KBPULSE_REDIS_ADDR"
	badgerPathEnv = "KBPULSE_BADGER_PATH"
)

// Config holds the settings the process needs across components.
type Config struct {
	RedisAddr  string       `yaml:"redisAddr"`
	BadgerPath string       `yaml:"badgerPath"`
	Server     ServerConfig `yaml:"server"`
	Sync       SyncConfig   `yaml:"sync"`
	Sources    []Source     `yaml:"sources"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
}

// SyncConfig tunes the fetch pipeline and the sync-all sweep.
type SyncConfig struct {
	Workers                int     `yaml:"workers"`
	SweepConcurrency       int     `yaml:"sweepConcurrency"`
	PerHostRPS             float64 `yaml:"perHostRps"`
	MaxArticlesPerCategory int     `yaml:"maxArticlesPerCategory"`
	RunBudgetMinutes       int     `yaml:"runBudgetMinutes"`
	// CronExpression, when set, schedules periodic sync-all sweeps.
	CronExpression string `yaml:"cronExpression"`
}

// Source is one configured knowledge base.
type Source struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Platform string `yaml:"platform"`
	BaseURL  string `yaml:"baseUrl"`
	Enabled  *bool  `yaml:"enabled"`
}

// ToModel converts a configured source to its registry representation.
// Sources are enabled unless the config says otherwise.
func (s Source) ToModel() model.DataSource {
	enabled := true
	if s.Enabled != nil {
		enabled = *s.Enabled
	}
	platform := model.Platform(s.Platform)
	if platform == "" {
		platform = model.PlatformGeneric
	}
	return model.DataSource{
		ID:       s.ID,
		Name:     s.Name,
		Platform: platform,
		BaseURL:  s.BaseURL,
		Enabled:  enabled,
		Status:   model.SourceIdle,
	}
}

// Sources as registry entries.
func (c Config) ModelSources() []model.DataSource {
	out := make([]model.DataSource, 0, len(c.Sources))
	for _, s := range c.Sources {
		out = append(out, s.ToModel())
	}
	return out
}

// Load reads YAML configuration (if present) and applies environment
// overrides on top of defaults.
func Load(path string) (Config, error) {
	cfg := defaultConfig()

	if path == "" {
		path = os.Getenv(configPathEnv)
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if v := os.Getenv(redisAddrEnv); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv(badgerPathEnv); v != "" {
		cfg.BadgerPath = v
	}

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	seen := map[string]bool{}
	for _, s := range c.Sources {
		if s.ID == "" || s.BaseURL == "" {
			return fmt.Errorf("config: source %q needs id and baseUrl", s.ID)
		}
		if seen[s.ID] {
			return fmt.Errorf("config: duplicate source id %q", s.ID)
		}
		seen[s.ID] = true
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		RedisAddr:  "localhost:6379",
		BadgerPath: "./badger-data",
		Server:     ServerConfig{Port: "8080"},
		Sync: SyncConfig{
			Workers:                6,
			SweepConcurrency:       4,
			PerHostRPS:             4,
			MaxArticlesPerCategory: 50,
			RunBudgetMinutes:       10,
		},
	}
}
