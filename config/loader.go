package config

import (
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the global application configuration
var Config AppConfig

// LoadAppConfig loads and validates the application configuration from config.yml
func LoadAppConfig() error {
	paths := []string{"config.yml", "/etc/transit-boards/config.yml"}
	var data []byte
	var err error
	for _, p := range paths {
		data, err = os.ReadFile(p)
		if err == nil {
			break
		}
	}
	if err != nil {
		return err
	}
	cfg, err := Parse(data)
	if err != nil {
		return err
	}
	Config = *cfg
	return nil
}

// Parse unmarshals, validates and applies defaults to a raw YAML document.
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	v := validator.New()
	if err := v.Struct(cfg.Server); err != nil {
		return nil, err
	}
	if err := v.Struct(cfg.Static); err != nil {
		return nil, err
	}
	if err := v.Struct(cfg.Realtime); err != nil {
		return nil, err
	}
	if err := v.Struct(cfg.Boards); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 16180
	}
	if cfg.Static.CacheDir == "" {
		cfg.Static.CacheDir = "./data"
	}
	if cfg.Static.RefreshHours == 0 {
		cfg.Static.RefreshHours = 6
	}
	if cfg.Static.RetainedVersions == 0 {
		cfg.Static.RetainedVersions = 8
	}
	if cfg.Static.TimeoutMS == 0 {
		cfg.Static.TimeoutMS = 60000
	}
	if cfg.Realtime.IntervalSeconds == 0 {
		cfg.Realtime.IntervalSeconds = 60
	}
	if cfg.Realtime.TimeoutMS == 0 {
		cfg.Realtime.TimeoutMS = 30000
	}
	if cfg.Realtime.StaleAfterSeconds == 0 {
		cfg.Realtime.StaleAfterSeconds = 300
	}
	if cfg.Boards.UpdateIntervalSeconds == 0 {
		cfg.Boards.UpdateIntervalSeconds = 60
	}
	if cfg.Boards.DefaultWindowMinutes == 0 {
		cfg.Boards.DefaultWindowMinutes = 30
	}
	if cfg.Boards.WatchStorePath == "" {
		cfg.Boards.WatchStorePath = "./data/watches.db"
	}
	if cfg.Boards.MaxWatches == 0 {
		cfg.Boards.MaxWatches = 30
	}
}
