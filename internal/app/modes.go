package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/scalperladder/internal/domain"
	"github.com/alanyoungcy/scalperladder/internal/feed"
	"github.com/alanyoungcy/scalperladder/internal/ladder"
	"github.com/alanyoungcy/scalperladder/internal/metrics"
	"github.com/alanyoungcy/scalperladder/internal/server"
	"github.com/alanyoungcy/scalperladder/internal/server/handler"
	"github.com/alanyoungcy/scalperladder/internal/server/ws"
	"github.com/alanyoungcy/scalperladder/internal/service"
	"github.com/alanyoungcy/scalperladder/internal/session"
)

// CommandsChannel is the bus channel hotkey commands arrive on.
const CommandsChannel = "ladder:commands"

const (
	notifyTimeout   = 10 * time.Second
	restoreTimeout  = 30 * time.Second
	shutdownTimeout = 5 * time.Second
)

// ServerMode runs the session behind the HTTP and WebSocket API.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)

	hub := ws.NewHub(deps.SignalBus, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	sess := a.startSession(ctx, g, deps, hub)

	h := server.Handlers{
		Health:   handler.NewHealthHandler(deps.Checks),
		Status:   handler.NewStatusHandler(a.cfg.Mode, time.Now().UTC(), sess),
		Widgets:  handler.NewWidgetHandler(sess, deps.SettingsStore, hub, a.logger),
		Commands: handler.NewCommandHandler(sess, a.logger),
		Terminal: handler.NewTerminalHandler(sess, deps.SettingsStore, a.logger),
	}
	if deps.AuditStore != nil {
		h.Audit = handler.NewAuditHandler(deps.AuditStore, a.logger)
	}
	if a.cfg.Metrics.Enabled {
		h.Metrics = metrics.Handler(metrics.Init(a.logger))
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIToken,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
		MetricsPath: a.cfg.Metrics.Path,
	}, h, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	return g.Wait()
}

// HeadlessMode runs the restored widgets without the HTTP API. Commands
// arrive only over the bus and views are published to it for other nodes.
func (a *App) HeadlessMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting headless mode")

	if deps.SignalBus == nil {
		a.logger.WarnContext(ctx, "headless mode without redis: no commands can reach the session")
	}

	g, ctx := errgroup.WithContext(ctx)

	hub := ws.NewHub(deps.SignalBus, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})
	a.startSession(ctx, g, deps, hub)

	return g.Wait()
}

// startSession builds the feeds, the order path and the session, restores
// stored settings and starts the background loops on g. The session is shut
// down when ctx ends.
func (a *App) startSession(ctx context.Context, g *errgroup.Group, deps *Dependencies, sink session.ViewSink) *session.Session {
	deps.Feed.Start(ctx)

	feeder := feed.NewFeeder(deps.Feed, deps.BookCache, deps.PriceCache, a.logger)
	instruments := service.NewInstrumentService(
		deps.Terminal, deps.InstrumentCache, deps.PriceCache,
		a.cfg.Terminal.PriceMaxAge.Duration, a.logger,
	)
	orders := service.NewOrderService(
		deps.Terminal, deps.RateLimiter, deps.AuditStore, deps.SignalBus, deps.Notifier,
		service.OrderLimits{
			PerWindow:   a.cfg.Orders.PerWindow,
			Window:      a.cfg.Orders.Window.Duration,
			DedupWindow: a.cfg.Orders.DedupWindow.Duration,
		},
		a.logger,
	)

	sess := session.New(session.Deps{
		Books:              session.NewRegistry("books", feeder.Books, a.logger),
		Orders:             session.NewRegistry("orders", feeder.Orders, a.logger),
		Positions:          session.NewRegistry("positions", feeder.Positions, a.logger),
		Quotes:             session.NewRegistry("quotes", feeder.Quotes, a.logger),
		Instruments:        instruments,
		Submitter:          orders,
		Sink:               sink,
		BufferRows:         a.cfg.Ladder.BufferRows,
		DefaultDepth:       a.cfg.Ladder.DefaultDepth,
		DefaultVisibleRows: a.cfg.Ladder.DefaultVisibleRows,
		DefaultPortfolio:   a.cfg.Terminal.Portfolio,
	}, a.logger)

	a.restore(ctx, sess, deps.SettingsStore)

	if deps.SignalBus != nil {
		g.Go(func() error {
			return a.consumeCommands(ctx, deps.SignalBus, sess)
		})
	}
	if deps.Archiver != nil {
		g.Go(func() error {
			return deps.Archiver.Run(ctx, a.cfg.Archive.Interval.Duration, a.cfg.Archive.Retention())
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		sess.Shutdown()
		return nil
	})
	return sess
}

// restore applies the stored terminal settings and reopens every stored
// widget. Failures are logged; the session starts empty rather than not at
// all.
func (a *App) restore(ctx context.Context, sess *session.Session, store domain.SettingsStore) {
	ctx, cancel := context.WithTimeout(ctx, restoreTimeout)
	defer cancel()

	var ts domain.TerminalSettings
	if store != nil {
		stored, err := store.GetTerminal(ctx)
		switch {
		case err == nil:
			ts = stored
		case !errors.Is(err, domain.ErrNotFound):
			a.logger.WarnContext(ctx, "load terminal settings failed", slog.String("error", err.Error()))
		}
	}
	if ts.MouseActions == nil {
		m := ladder.MouseActionsFor(domain.MouseActionsScheme(a.cfg.Ladder.MouseScheme))
		ts.MouseActions = &m
	}
	if err := sess.UpdateTerminalSettings(ctx, ts); err != nil {
		a.logger.WarnContext(ctx, "apply terminal settings failed", slog.String("error", err.Error()))
	}

	if store == nil {
		return
	}
	widgets, err := store.ListWidgets(ctx)
	if err != nil {
		a.logger.WarnContext(ctx, "load widgets failed", slog.String("error", err.Error()))
		return
	}
	for _, w := range widgets {
		if _, err := sess.Open(ctx, w); err != nil {
			a.logger.WarnContext(ctx, "restore widget failed",
				slog.String("guid", w.GUID),
				slog.String("error", err.Error()),
			)
		}
	}
	a.logger.InfoContext(ctx, "widgets restored", slog.Int("count", len(widgets)))
}

// consumeCommands broadcasts every command published on CommandsChannel
// into the session.
func (a *App) consumeCommands(ctx context.Context, bus domain.SignalBus, sess *session.Session) error {
	ch, err := bus.Subscribe(ctx, CommandsChannel)
	if err != nil {
		return fmt.Errorf("app: subscribe %s: %w", CommandsChannel, err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case payload, ok := <-ch:
			if !ok {
				return nil
			}
			cmd, err := decodeCommand(payload)
			if err != nil {
				a.logger.WarnContext(ctx, "bad command on bus", slog.String("error", err.Error()))
				continue
			}
			outcomes, err := sess.Broadcast(ctx, cmd)
			if err != nil {
				a.logger.WarnContext(ctx, "broadcast failed",
					slog.String("command", string(cmd.Type)),
					slog.String("error", err.Error()),
				)
				continue
			}
			a.logger.DebugContext(ctx, "bus command broadcast",
				slog.String("command", string(cmd.Type)),
				slog.Int("instances", len(outcomes)),
			)
		}
	}
}

func decodeCommand(payload []byte) (domain.Command, error) {
	var cmd domain.Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return cmd, fmt.Errorf("decode command: %w", err)
	}
	if cmd.Type == "" {
		return cmd, fmt.Errorf("decode command: %w", domain.ErrInvalidInput)
	}
	return cmd, nil
}
