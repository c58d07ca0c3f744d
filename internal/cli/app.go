package cli

import (
	"log/slog"
	"time"

	"github.com/tapin/kioskd/internal/cache"
	"github.com/tapin/kioskd/internal/config"
	"github.com/tapin/kioskd/internal/remote"
	"github.com/tapin/kioskd/internal/session"
	"github.com/tapin/kioskd/internal/syncer"
)

// app bundles the components every command needs: config, local stores,
// remote client, and sync engine. Commands open it, use it, and close it.
type app struct {
	cfg      config.Config
	cache    *cache.Cache
	remote   *remote.HTTPClient
	sessions *session.Manager
	engine   *syncer.Engine
	log      *slog.Logger
}

// openApp loads the config and opens every store.
func openApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	log := slog.Default()

	rc, err := remote.NewHTTPClient(cfg.RemoteURL, time.Duration(cfg.RemoteTimeout))
	if err != nil {
		return nil, err
	}

	c, err := cache.Open(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}

	sessions, err := session.Open(cfg.SessionPath, rc, c, log)
	if err != nil {
		c.Close()
		return nil, err
	}

	engine := syncer.New(c, rc, cfg.KioskID, log,
		syncer.WithMaxPushAttempts(cfg.MaxPushAttempts),
		syncer.WithRemoteTimeout(time.Duration(cfg.RemoteTimeout)),
	)

	return &app{
		cfg:      cfg,
		cache:    c,
		remote:   rc,
		sessions: sessions,
		engine:   engine,
		log:      log,
	}, nil
}

// close releases the stores.
func (a *app) close() {
	a.sessions.Close()
	a.cache.Close()
}

// today returns the kiosk-local date key.
func (a *app) today() string {
	return time.Now().Format(time.DateOnly)
}
