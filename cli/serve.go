package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	apirest "github.com/kasuganosora/engagebot/api/rest"
	"github.com/kasuganosora/engagebot/api/sse"
	"github.com/kasuganosora/engagebot/api/ws"
	"github.com/kasuganosora/engagebot/audit"
	"github.com/kasuganosora/engagebot/cache"
	"github.com/kasuganosora/engagebot/definitions"
	"github.com/kasuganosora/engagebot/engine"
	"github.com/kasuganosora/engagebot/game/reward"
	"github.com/kasuganosora/engagebot/hook"
	mw "github.com/kasuganosora/engagebot/middleware"
	"github.com/kasuganosora/engagebot/scheduler"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// NewServeCommand creates the serve command, which runs the HTTP API.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(rootOpts.ConfigPath)
			if err != nil {
				return err
			}
			defer a.close()
			if port > 0 {
				a.cfg.Server.Port = port
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, a)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "override server.port")
	return cmd
}

func serve(ctx context.Context, a *app) error {
	cfg, logger := a.cfg, a.logger

	// ---- Audit ----
	auditSvc := audit.New(a.db, logger.Named("audit"))
	defer auditSvc.Stop(context.Background())

	// ---- Cache / PubSub ----
	c, err := cache.NewCache(a.cacheConfig())
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	if cl, ok := c.(interface{ Close() }); ok {
		defer cl.Close()
	}
	pubsub, err := cache.NewPubSub(a.cacheConfig())
	if err != nil {
		return fmt.Errorf("pubsub: %w", err)
	}
	logger.Info("Cache initialized", zap.Bool("redis", cfg.Cache.RedisAddr != ""))

	// ---- Definitions ----
	defs, err := definitions.Load(cfg.Engine.DefinitionsPath)
	if err != nil {
		return err
	}
	catalog, err := defs.Catalog()
	if err != nil {
		return fmt.Errorf("definitions: %w", err)
	}

	// ---- Engine ----
	hooks := hook.NewHookCenter()
	hooks.PublishTo(pubsub, logger.Named("events"))
	eng, err := engine.New(cfg.Engine, engine.Deps{
		DB:      a.db,
		Cache:   c,
		Granter: reward.NewWallet(a.db, auditSvc, logger.Named("wallet")),
		Catalog: catalog,
		Hooks:   hooks,
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	added, err := defs.Seed(ctx, eng.Vault)
	if err != nil {
		return err
	}
	logger.Info("definitions loaded",
		zap.String("path", cfg.Engine.DefinitionsPath),
		zap.Int("missions", len(defs.Missions)),
		zap.Int("combinations_added", added))

	// ---- Scheduler ----
	sched := scheduler.New(logger.Named("scheduler"))
	defer sched.Stop()
	sweep := cfg.Engine.Session.SweepInterval
	if sweep <= 0 {
		sweep = time.Minute
	}
	sched.AddTicker("flow_idle_sweep", sweep, func(ctx context.Context) {
		eng.ExpireIdleFlows(ctx)
	})

	// ---- Gin HTTP Server ----
	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(mw.TraceID(), mw.Logger(logger), mw.Recovery(logger))
	r.Use(mw.RateLimitFromConfig(cfg.Security))
	apirest.Register(r, eng, sched, logger)
	r.GET("/api/v1/events", sse.NewHandler(pubsub, logger.Named("sse")).ServeEvents)
	wsRouter := ws.NewRouter(logger.Named("ws"))
	ws.RegisterEngine(wsRouter, eng)
	r.GET("/ws", ws.NewHandler(wsRouter, pubsub, cfg.Security.AllowedOrigins, logger.Named("ws")).ServeWS)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server listening", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
