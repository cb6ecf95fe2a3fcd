package config

import (
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"timeinsight/internal/ipc"
	"timeinsight/internal/scheduler"

	"github.com/kardianos/osext"
	"github.com/spf13/viper"
)

const (
	ObserverX11  = "x11"
	ObserverNone = "none"
)

type Config struct {
	DatabasePath        string `mapstructure:"database_path"`
	PollIntervalSeconds int    `mapstructure:"poll_interval_seconds"`
	BoundarySchedule    string `mapstructure:"boundary_schedule"`
	SocketPath          string `mapstructure:"socket_path"`
	Observer            string `mapstructure:"observer"` // "x11" or "none"
	Debug               bool   `mapstructure:"debug"`
}

// DefaultDatabasePath is data/time_insight.db next to the running executable.
func DefaultDatabasePath() string {
	dir, err := osext.ExecutableFolder()
	if err != nil {
		log.Printf("Warning: cannot determine executable folder: %v", err)
		dir = "."
	}
	return filepath.Join(dir, "data", "time_insight.db")
}

func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/timeinsight")
		v.AddConfigPath("/etc/timeinsight/")
	}

	v.SetEnvPrefix("TIMEINSIGHT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("database_path", DefaultDatabasePath())
	v.SetDefault("poll_interval_seconds", 1)
	v.SetDefault("boundary_schedule", scheduler.HalfHourly)
	v.SetDefault("socket_path", ipc.DefaultSocketPath)
	v.SetDefault("observer", ObserverX11)
	v.SetDefault("debug", false)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("Config file not found, using defaults.")
		} else {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.PollIntervalSeconds < 1 {
		log.Println("Warning: poll_interval_seconds too low, setting to 1")
		cfg.PollIntervalSeconds = 1
	}
	if cfg.Observer != ObserverX11 && cfg.Observer != ObserverNone {
		log.Printf("Warning: invalid observer '%s', defaulting to '%s'", cfg.Observer, ObserverX11)
		cfg.Observer = ObserverX11
	}
	if _, err := scheduler.Parse(cfg.BoundarySchedule); err != nil {
		return nil, fmt.Errorf("boundary_schedule: %w", err)
	}

	log.Printf("Configuration loaded: %+v", cfg)
	return &cfg, nil
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}
