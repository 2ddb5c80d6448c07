package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Flags holds parsed command-line flag values and which were set.
type Flags struct {
	Addr   string
	DB     string
	Config string
	Set    map[string]bool
}

// ParseFlags parses command-line flags.
func ParseFlags() Flags {
	addrPtr := flag.String("addr", ":8090", "gateway listen address")
	dbPtr := flag.String("db", "./.chatview", "embedded log path")
	cfgPtr := flag.String("config", "./config.yaml", "path to config file")
	flag.Parse()
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return Flags{Addr: *addrPtr, DB: *dbPtr, Config: *cfgPtr, Set: set}
}

// Load reads a YAML config file and applies env overrides on top.
func Load(path string) (*Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnv(&cfg)
			return &cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	applyEnv(&cfg)
	return &cfg, nil
}

// applyEnv lets the environment override file values. Env wins over file,
// flags win over both (resolved in main).
func applyEnv(cfg *Config) {
	if v := os.Getenv("CHATVIEW_ADDR"); v != "" {
		cfg.Server.Address = v
		cfg.Server.Port = 0
	}
	if v := os.Getenv("CHATVIEW_DB_PATH"); v != "" {
		cfg.Storage.DBPath = v
	}
	if v := os.Getenv("CHATVIEW_MEDIA_DIR"); v != "" {
		cfg.Storage.MediaDir = v
	}
	if v := os.Getenv("CHATVIEW_REMOTE_MODE"); v != "" {
		cfg.Remote.Mode = v
	}
	if v := os.Getenv("CHATVIEW_REMOTE_URL"); v != "" {
		cfg.Remote.URL = v
	}
	if v := os.Getenv("CHATVIEW_SENDER_ID"); v != "" {
		cfg.Identity.ID = v
	}
	if v := os.Getenv("CHATVIEW_SENDER_NAME"); v != "" {
		cfg.Identity.Name = v
	}
	if v := os.Getenv("CHATVIEW_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Addr returns the listen address, combining address and port when both
// are set.
func (c *Config) Addr() string {
	addr := c.Server.Address
	if addr == "" {
		addr = ":8090"
	}
	if c.Server.Port > 0 && !strings.Contains(addr, ":") {
		addr = addr + ":" + strconv.Itoa(c.Server.Port)
	}
	return addr
}

// ParsePeriod parses a retention period. Accepts time.ParseDuration forms
// plus a "d" suffix for days.
func ParsePeriod(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty period")
	}
	if strings.HasSuffix(s, "d") {
		n, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err != nil {
			return 0, fmt.Errorf("invalid period %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}
