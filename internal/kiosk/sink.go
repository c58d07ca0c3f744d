package kiosk

import (
	"log/slog"

	"github.com/tapin/kioskd/internal/reader"
	"github.com/tapin/kioskd/internal/validate"
)

// Sink receives everything the UI collaborator renders: validation
// outcomes and reader status. Rendering, idle timers, and admin-exit flows
// live entirely behind this interface. Implementations are called from the
// kiosk loop goroutine and must not block.
type Sink interface {
	Scan(outcome validate.Outcome)
	Reader(status reader.Status)
}

// SlogSink reports outcomes and status to the structured log. It is the
// default sink for headless operation and a reasonable template for a real
// UI adapter.
type SlogSink struct {
	Log *slog.Logger
}

// Scan implements Sink.
func (s SlogSink) Scan(outcome validate.Outcome) {
	switch outcome.Status {
	case validate.StatusAccepted:
		s.Log.Info("scan accepted",
			"name", outcome.Identity.FullName,
			"course", outcome.CourseName,
		)
	case validate.StatusRejected:
		s.Log.Info("scan rejected",
			"reason", string(outcome.Reason),
			"detail", outcome.Detail,
		)
	case validate.StatusDiscarded:
		s.Log.Debug("scan discarded by rate limiter")
	}
}

// Reader implements Sink.
func (s SlogSink) Reader(status reader.Status) {
	if status.State == reader.StateConnected {
		s.Log.Info("reader status", "state", string(status.State), "path", status.Path)
		return
	}
	s.Log.Warn("reader status", "state", string(status.State), "path", status.Path, "error", status.Err)
}
