package app

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/will87p/betpool/internal/ledger"
	"github.com/will87p/betpool/internal/notify"
	"github.com/will87p/betpool/internal/server"
	"github.com/will87p/betpool/internal/server/handler"
	"github.com/will87p/betpool/internal/server/middleware"
	"github.com/will87p/betpool/internal/server/ws"
)

const shutdownGrace = 10 * time.Second

// ServeMode runs the settlement ledger API. It builds the engine on top of
// the wired store, exposes it over HTTP and WebSocket, and relays ledger
// events to configured notification channels. It blocks until the context is
// cancelled or a component fails.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	logger := a.logger.With("mode", a.cfg.Mode)

	engine := ledger.NewEngine(deps.Store, deps.Bus, deps.Cache, a.logger)
	if deps.LockManager != nil {
		engine.SetLockManager(deps.LockManager)
	}

	handlers := server.Handlers{
		Markets:  handler.NewMarketHandler(engine, a.logger),
		Bets:     handler.NewBetHandler(engine, a.logger),
		Settle:   handler.NewSettlementHandler(engine, a.logger),
		Accounts: handler.NewAccountHandler(engine, a.logger),
		Events:   handler.NewEventHandler(engine, a.logger),
	}

	// In dev mode there is no database to ping; the handler reports healthy
	// with a nil store.
	if deps.PG != nil {
		handlers.Health = handler.NewHealthHandler(deps.PG, a.logger)
	} else {
		handlers.Health = handler.NewHealthHandler(nil, a.logger)
	}

	if deps.Images != nil {
		handlers.Images = handler.NewImageHandler(engine, deps.Images, a.logger)
	}

	apiKeys, err := apiKeyTable(a.cfg.Auth.APIKeys)
	if err != nil {
		return err
	}

	srvCfg := server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		Identity: middleware.IdentityConfig{
			APIKeys:       apiKeys,
			AllowUnsigned: a.cfg.Auth.AllowUnsigned,
		},
		RateLimiter:     deps.RateLimiter,
		RateLimit:       a.cfg.Server.RateLimit,
		RateLimitWindow: a.cfg.Server.RateLimitWindow.Duration,
	}

	g, ctx := errgroup.WithContext(ctx)

	// The hub and the notification relay both consume the Redis event bus;
	// without Redis the API still works, clients just poll /api/events.
	var hub *ws.Hub
	if deps.Bus != nil {
		hub = ws.NewHub(deps.Bus, a.logger, a.cfg.Server.CORSOrigins)
		g.Go(func() error {
			return hub.Run(ctx)
		})

		relay := notify.NewRelay(deps.Bus, deps.Notifier, a.logger)
		g.Go(func() error {
			return relay.Run(ctx)
		})
	} else {
		logger.Warn("redis disabled, websocket feed and notifications are off")
	}

	srv := server.NewServer(srvCfg, handlers, hub, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	logger.Info("serving", "port", a.cfg.Server.Port)
	return g.Wait()
}
