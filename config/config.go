package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

const DefaultPath = "config.yaml"

type AppConfig struct {
	Address     string `yaml:"address"`
	Port        int    `yaml:"port"`
	AutoOpen    bool   `yaml:"autoOpen"`
	WaitSeconds int    `yaml:"waitSeconds"`
}

type LogConfig struct {
	Development bool   `yaml:"development"`
	File        string `yaml:"file"`
	MaxSizeMB   int    `yaml:"maxSizeMB"`
	MaxBackups  int    `yaml:"maxBackups"`
	MaxAgeDays  int    `yaml:"maxAgeDays"`
}

type CatalogConfig struct {
	MongoURI string `yaml:"mongoURI"`
	Database string `yaml:"database"`
}

// Config carries ambient settings only; what gets loaded is decided by the caller.
type Config struct {
	App         AppConfig     `yaml:"app"`
	Log         LogConfig     `yaml:"log"`
	Catalog     CatalogConfig `yaml:"catalog"`
	Metrics     bool          `yaml:"metrics"`
	LoadWorkers int           `yaml:"loadWorkers"`
}

func Default() Config {
	return Config{
		App: AppConfig{
			Address:     "localhost",
			Port:        5151,
			AutoOpen:    true,
			WaitSeconds: 3,
		},
		Log: LogConfig{
			MaxSizeMB:  50,
			MaxBackups: 10,
			MaxAgeDays: 14,
		},
		Catalog: CatalogConfig{
			Database: "datasetapp",
		},
		Metrics: true,
	}
}

// Load reads path over Default(). A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.App.Port < 0 || c.App.Port > 65535 {
		return fmt.Errorf("app.port must be between 0 and 65535, got %d", c.App.Port)
	}
	if c.LoadWorkers < 0 {
		return fmt.Errorf("loadWorkers cannot be negative, got %d", c.LoadWorkers)
	}
	if c.Catalog.MongoURI != "" && c.Catalog.Database == "" {
		return errors.New("catalog.database is required when catalog.mongoURI is set")
	}
	return nil
}
