package cli

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tapin/kioskd/internal/kiosk"
	"github.com/tapin/kioskd/internal/remote"
	"github.com/tapin/kioskd/internal/session"
)

// wallClock adapts time.Now to the validator's clock interface.
type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// NewRunCommand creates the run command: the long-lived kiosk process.
func NewRunCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the kiosk loop",
		Long: "Starts the kiosk: connects the reader, logs the device in " +
			"(resuming the cached session when offline), and processes scans " +
			"until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKiosk(cmd.Context(), opts)
		},
	}
}

func runKiosk(parent context.Context, opts *RootOptions) error {
	a, err := openApp(opts.ConfigPath)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Login gates which identity the engine and validator operate under.
	// Offline with no cached session the kiosk still runs: scans will
	// reject until connectivity allows a first login and pull.
	if _, err := a.sessions.Login(ctx, a.cfg.ConnectionKey); err != nil {
		if errors.Is(err, session.ErrLoginRequiresConnectivity) {
			a.log.Warn("no cached session, waiting for connectivity")
		} else {
			return err
		}
	} else {
		a.engine.RequestPull()
	}

	k := kiosk.New(kiosk.Options{
		KioskID:      a.cfg.KioskID,
		Cache:        a.cache,
		Sessions:     a.sessions,
		Engine:       a.engine,
		Clock:        wallClock{},
		Sink:         kiosk.SlogSink{Log: a.log},
		Log:          a.log,
		PullInterval: time.Duration(a.cfg.PullInterval),
		PushInterval: time.Duration(a.cfg.PushInterval),
	})
	defer k.Close()

	k.Reader().Connect(a.cfg.ReaderPath)

	// Reachability recovery: push the offline backlog as soon as any call
	// or poll observes the remote again.
	a.remote.OnRecover(k.NotifyOnline)

	// Remote change notifications: payload-agnostic, any change means pull.
	watcher := remote.NewWatcher(a.remote, a.log)
	go watcher.Run(ctx, k.NotifyRemoteChange)

	err = k.Run(ctx)
	if errors.Is(err, context.Canceled) {
		a.log.Info("kiosk stopped")
		return nil
	}
	return err
}
