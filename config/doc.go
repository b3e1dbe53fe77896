// Package config handles application configuration loading and validation.
//
// Configuration is loaded from config.yml and validated using struct tags.
// Defaults are applied before validation so a minimal config file is enough
// to run against a single static feed plus one realtime feed.
package config
