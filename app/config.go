package app

import (
	"time"

	"DatasetApp/catalog"
	"DatasetApp/config"
)

const (
	writeWait        = 5 * time.Second
	defaultPageSize  = 50
	maxPageSize      = 200
	defaultThumbSize = 256
	maxThumbSize     = 1024
	thumbCacheSize   = 2048
)

type Config struct {
	Address  string
	Port     int
	AutoOpen bool
	// Wait is how long the session lingers after its last viewer left.
	// Negative waits until the context ends or Close is called.
	Wait    time.Duration
	Metrics bool
	// Catalog backs /api/datasets; nil lists only the served dataset.
	Catalog      catalog.Catalog
	IdleTimeout  time.Duration
	PingInterval time.Duration
	ReadyTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Address:      "localhost",
		Port:         5151,
		AutoOpen:     true,
		Wait:         3 * time.Second,
		Metrics:      true,
		IdleTimeout:  30 * time.Second,
		PingInterval: 10 * time.Second,
		ReadyTimeout: 5 * time.Second,
	}
}

// FromConfig maps the ambient config file onto session settings.
func FromConfig(c config.Config) Config {
	cfg := DefaultConfig()
	cfg.Address = c.App.Address
	cfg.Port = c.App.Port
	cfg.AutoOpen = c.App.AutoOpen
	cfg.Wait = time.Duration(c.App.WaitSeconds) * time.Second
	cfg.Metrics = c.Metrics
	return cfg
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Address == "" {
		c.Address = d.Address
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = d.IdleTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = d.PingInterval
	}
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = d.ReadyTimeout
	}
	return c
}
