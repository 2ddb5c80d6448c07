// Package app wires the engine components together and owns the process
// lifecycle: config validation, the remote log backend, the session, the
// HTTP gateway and graceful shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"chatview/internal/retention"
	"chatview/pkg/api"
	"chatview/pkg/banner"
	"chatview/pkg/config"
	"chatview/pkg/logger"
	"chatview/pkg/models"
	"chatview/pkg/outbox"
	"chatview/pkg/profile"
	"chatview/pkg/remotelog"
	"chatview/pkg/session"
	"chatview/pkg/transfer"
)

const (
	// RemoteEmbedded runs the log replica locally on pebble.
	RemoteEmbedded = "embedded"
	// RemoteWebsocket streams the log from a hosted backend.
	RemoteWebsocket = "websocket"
)

// App encapsulates the engine components and lifecycle.
type App struct {
	cfg     *config.Config
	version string

	pebble   *remotelog.Pebble
	ws       *remotelog.WS
	sess     *session.Session
	srv      *http.Server
	mediaDir string
	staging  string

	stopRetention context.CancelFunc
}

// New validates cfg and opens resources that need no running context: the
// embedded log (in embedded mode), the media store and the staging dir.
// Call Run to dial remote backends, start the gateway and block until
// shutdown.
func New(cfg *config.Config, version string) (*App, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	logger.InitWithLevel(cfg.Logging.Level)

	a := &App{cfg: cfg, version: version}

	if mode(cfg) == RemoteEmbedded {
		db, err := remotelog.OpenPebble(cfg.Storage.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open embedded log at %s: %w", cfg.Storage.DBPath, err)
		}
		a.pebble = db
	}

	a.mediaDir = cfg.Storage.MediaDir
	if a.mediaDir == "" {
		a.mediaDir = "./media"
	}
	a.staging = filepath.Join(a.mediaDir, "staging")
	if err := os.MkdirAll(a.staging, 0o700); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}

	return a, nil
}

// Run dials the remote backend if configured, builds the session and the
// gateway, starts retention and the HTTP server, and blocks until ctx is
// canceled or a fatal server error occurs.
func (a *App) Run(ctx context.Context) error {
	log, err := a.openLog(ctx)
	if err != nil {
		return err
	}

	store, err := transfer.NewLocalStore(a.mediaDir)
	if err != nil {
		return fmt.Errorf("open media store: %w", err)
	}

	a.sess = session.New(session.Config{
		Log:      log,
		Uploader: store,
		Resolver: a.resolver(),
		Self: models.Profile{
			ID:     a.cfg.Identity.ID,
			Name:   a.cfg.Identity.Name,
			Avatar: a.cfg.Identity.Avatar,
		},
		Limits: outbox.Limits{
			MaxTextLen:   a.cfg.Limits.MaxTextLen,
			MaxBlobBytes: a.cfg.Limits.MaxBlobBytes,
		},
	})

	if a.pebble != nil {
		cancel, err := retention.Start(ctx, a.cfg.Retention, a.pebble)
		if err != nil {
			return err
		}
		a.stopRetention = cancel
	}

	gw := api.New(a.sess, a.cfg.Gateway, a.staging)
	a.srv = &http.Server{
		Addr:              a.cfg.Addr(),
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	banner.Print(a.cfg.Addr(), mode(a.cfg), a.storeDesc(), a.version)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway_listening", "addr", a.cfg.Addr())
		if err := a.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.shutdown()
		return nil
	case err := <-errCh:
		a.shutdown()
		return err
	}
}

// openLog returns the configured remote log backend.
func (a *App) openLog(ctx context.Context) (remotelog.Log, error) {
	if a.pebble != nil {
		return a.pebble, nil
	}
	ws, err := remotelog.DialWS(ctx, a.cfg.Remote.URL)
	if err != nil {
		return nil, fmt.Errorf("dial remote log %s: %w", a.cfg.Remote.URL, err)
	}
	a.ws = ws
	return ws, nil
}

// resolver builds the sender directory from configured profiles, memoized.
func (a *App) resolver() profile.Resolver {
	seed := make([]models.Profile, 0, len(a.cfg.Profiles))
	for _, p := range a.cfg.Profiles {
		seed = append(seed, models.Profile{ID: p.ID, Name: p.Name, Avatar: p.Avatar})
	}
	return profile.NewCached(profile.NewStatic(seed))
}

func (a *App) storeDesc() string {
	if a.pebble != nil {
		return a.cfg.Storage.DBPath
	}
	return a.cfg.Remote.URL
}

// shutdown stops components in dependency order: stop accepting requests,
// detach the session, then close the log backend.
func (a *App) shutdown() {
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if a.srv != nil {
		if err := a.srv.Shutdown(sctx); err != nil {
			logger.Warn("gateway_shutdown_error", "error", err)
		}
	}
	if a.stopRetention != nil {
		a.stopRetention()
	}
	if a.sess != nil {
		a.sess.Close()
	}
	if a.ws != nil {
		_ = a.ws.Close()
	}
	if a.pebble != nil {
		_ = a.pebble.Close()
	}
	logger.Info("shutdown_complete")
}
