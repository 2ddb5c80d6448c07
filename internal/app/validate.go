package app

import (
	"fmt"

	"chatview/pkg/config"
)

// validateConfig performs quick, fail-fast validation of the configuration
// before opening long-lived resources. Keep checks light so callers can
// surface user-friendly errors.
func validateConfig(cfg *config.Config) error {
	switch mode(cfg) {
	case RemoteEmbedded:
		if cfg.Storage.DBPath == "" {
			return fmt.Errorf("embedded log path is empty: set --db flag, CHATVIEW_DB_PATH env, or storage.db_path in config")
		}
	case RemoteWebsocket:
		if cfg.Remote.URL == "" {
			return fmt.Errorf("remote.mode is websocket but remote.url is empty")
		}
	default:
		return fmt.Errorf("unknown remote.mode %q: expected %q or %q", cfg.Remote.Mode, RemoteEmbedded, RemoteWebsocket)
	}

	if cfg.Identity.ID == "" {
		return fmt.Errorf("sender identity is empty: set CHATVIEW_SENDER_ID env or identity.id in config")
	}

	if cfg.Retention.Enabled && cfg.Retention.Period == "" {
		return fmt.Errorf("retention enabled but retention.period is empty")
	}
	return nil
}

// mode returns the effective remote mode, defaulting to embedded.
func mode(cfg *config.Config) string {
	if cfg.Remote.Mode == "" {
		return RemoteEmbedded
	}
	return cfg.Remote.Mode
}
