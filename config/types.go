package config

// ServerConfig contains server configuration
type ServerConfig struct {
	Port int `yaml:"port" validate:"gt=0"`
}

// StaticConfig contains static GTFS feed source and cache settings
type StaticConfig struct {
	FeedURL          string `yaml:"feedURL" validate:"omitempty,url"`
	CacheDir         string `yaml:"cacheDir"`
	RefreshHours     int    `yaml:"static_refresh_hours" validate:"gte=0"`
	RetainedVersions int    `yaml:"retainedVersions" validate:"gte=0"`
	TimeoutMS        int    `yaml:"timeoutMS" validate:"gte=0"`
}

// RealtimeConfig contains the GTFS-Realtime feed configuration
type RealtimeConfig struct {
	FeedURL           string `yaml:"feedURL" validate:"omitempty,url"`
	IntervalSeconds   int    `yaml:"realtime_interval" validate:"gte=0"`
	TimeoutMS         int    `yaml:"timeoutMS" validate:"gte=0"`
	StaleAfterSeconds int    `yaml:"staleAfterSeconds" validate:"gte=0"`
}

// BoardsConfig contains watch evaluation and board output settings
type BoardsConfig struct {
	UpdateIntervalSeconds int    `yaml:"update_interval" validate:"gte=0"`
	DefaultWindowMinutes  int    `yaml:"default_window_minutes" validate:"gte=0"`
	NotificationsEnabled  bool   `yaml:"notifications_enabled"`
	WatchStorePath        string `yaml:"watchStorePath"`
	MaxWatches            int    `yaml:"maxWatches" validate:"gte=0"`
}

// AppConfig is the root configuration structure
type AppConfig struct {
	Server   ServerConfig   `yaml:"server" validate:"required"`
	Static   StaticConfig   `yaml:"static"`
	Realtime RealtimeConfig `yaml:"realtime"`
	Boards   BoardsConfig   `yaml:"boards"`
}
