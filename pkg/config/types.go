package config

// Config is the main configuration struct.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Remote    RemoteConfig    `yaml:"remote"`
	Identity  IdentityConfig  `yaml:"identity"`
	Profiles  []ProfileEntry  `yaml:"profiles"`
	Limits    LimitsConfig    `yaml:"limits"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Retention RetentionConfig `yaml:"retention"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds gateway listen settings.
type ServerConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// StorageConfig holds local paths.
type StorageConfig struct {
	DBPath   string `yaml:"db_path"`
	MediaDir string `yaml:"media_dir"`
}

// RemoteConfig selects the log backend. Mode "embedded" runs the local
// pebble log at storage.db_path; mode "websocket" dials URL.
type RemoteConfig struct {
	Mode string `yaml:"mode"`
	URL  string `yaml:"url"`
}

// IdentityConfig is the local sender identity.
type IdentityConfig struct {
	ID     string `yaml:"id"`
	Name   string `yaml:"name"`
	Avatar string `yaml:"avatar"`
}

// ProfileEntry seeds the static profile resolver.
type ProfileEntry struct {
	ID     string `yaml:"id"`
	Name   string `yaml:"name"`
	Avatar string `yaml:"avatar"`
}

// LimitsConfig bounds composer input.
type LimitsConfig struct {
	MaxTextLen   int   `yaml:"max_text_len"`
	MaxBlobBytes int64 `yaml:"max_blob_bytes"`
}

// GatewayConfig holds per-client rate limiting for the command surface.
type GatewayConfig struct {
	RateLimit struct {
		RPS   float64 `yaml:"rps"`
		Burst int     `yaml:"burst"`
	} `yaml:"rate_limit"`
}

// RetentionConfig configures pruning of the embedded log replica.
type RetentionConfig struct {
	Enabled bool   `yaml:"enabled"`
	Cron    string `yaml:"cron"`
	Period  string `yaml:"period"` // e.g. "720h", "30d"
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}
