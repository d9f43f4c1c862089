// Package app wires the engine together: store, hub, conversation
// directory, message pipeline, typing and unread trackers, dispatcher,
// HTTP surface and retention. main stays thin; everything with a
// lifecycle lives here.
package app

import (
	"context"
	"fmt"
	"net/http"

	"chatrelay/internal/retention"
	"chatrelay/pkg/banner"
	"chatrelay/pkg/config"
	"chatrelay/pkg/directory"
	"chatrelay/pkg/dispatch"
	"chatrelay/pkg/hub"
	"chatrelay/pkg/logger"
	"chatrelay/pkg/pipeline"
	"chatrelay/pkg/store"
	"chatrelay/pkg/typing"
	"chatrelay/pkg/unread"
	"chatrelay/pkg/userdir"
	"chatrelay/pkg/validation"
)

// App encapsulates the engine components and lifecycle.
type App struct {
	eff     config.EffectiveConfigResult
	version string

	hub   *hub.Hub
	dir   *directory.Directory
	users *userdir.Memory
	typ   *typing.Tracker
	unr   *unread.Tracker
	pipe  *pipeline.Pipeline
	disp  *dispatch.Dispatcher

	srv             *http.Server
	cancelRetention context.CancelFunc
}

// New initializes everything that does not need a running context: the
// store, the hub and the trackers around it. Call Run to start the typing
// sweeper, retention and the HTTP server.
func New(eff config.EffectiveConfigResult, version string) (*App, error) {
	cfg := eff.Config

	logger.InitWithLevel(cfg.Logging.Level)

	validation.SetRules(validation.Rules{
		MaxBodyLen:     cfg.Limits.MaxBodyLen,
		MaxAttachments: cfg.Limits.MaxAttachments,
		MaxNameLen:     cfg.Limits.MaxNameLen,
	})

	if err := store.Open(eff.DBPath); err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", eff.DBPath, err)
	}

	a := &App{eff: eff, version: version}

	a.hub = hub.New(hub.Config{
		SendBuffer: cfg.Hub.SendBuffer,
		RPS:        cfg.Hub.RPS,
		Burst:      cfg.Hub.Burst,
	})
	a.users = userdir.NewMemory()
	a.dir = directory.New(a.hub, a.users)
	if err := a.dir.Load(); err != nil {
		return nil, fmt.Errorf("failed to load conversations: %w", err)
	}
	a.typ = typing.New(a.hub, a.dir, a.users)
	a.unr = unread.New(a.hub, a.dir)
	a.pipe = pipeline.New(a.hub, a.dir, a.typ, a.unr)
	a.disp = dispatch.New(a.hub, a.dir, a.pipe, a.typ, a.unr, a.users)

	a.hub.SetHandler(a.disp)
	// a dropped connection stops typing everywhere; a departed member's
	// stale indicator is cleared the same way
	a.hub.SetOnDisconnect(a.typ.ClearUser)
	a.dir.SetOnLeave(a.typ.Stop)

	return a, nil
}

// Run starts the typing sweeper, the retention scheduler and the HTTP
// server, then blocks until ctx is canceled or the server fails.
func (a *App) Run(ctx context.Context) error {
	go a.typ.Run(ctx)

	cancelRet, err := retention.Start(ctx, a.eff.Config)
	if err != nil {
		return err
	}
	a.cancelRetention = cancelRet

	banner.Print(a.eff, a.version)

	errCh := a.startHTTP()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown drains the HTTP server and closes the store.
func (a *App) Shutdown(ctx context.Context) error {
	if a.cancelRetention != nil {
		a.cancelRetention()
	}
	var firstErr error
	if a.srv != nil {
		if err := a.srv.Shutdown(ctx); err != nil {
			firstErr = err
		}
	}
	if err := store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	logger.Info("shutdown_complete")
	return firstErr
}
