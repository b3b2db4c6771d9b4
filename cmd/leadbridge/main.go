package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dropDatabas3/leadbridge/internal/cache"
	memcache "github.com/dropDatabas3/leadbridge/internal/cache/memory"
	redcache "github.com/dropDatabas3/leadbridge/internal/cache/redis"
	"github.com/dropDatabas3/leadbridge/internal/config"
	httpx "github.com/dropDatabas3/leadbridge/internal/http"
	"github.com/dropDatabas3/leadbridge/internal/http/handlers"
	"github.com/dropDatabas3/leadbridge/internal/http/router"
	"github.com/dropDatabas3/leadbridge/internal/metrics"
	"github.com/dropDatabas3/leadbridge/internal/oauth"
	"github.com/dropDatabas3/leadbridge/internal/observability/logger"
	"github.com/dropDatabas3/leadbridge/internal/provider"
	"github.com/dropDatabas3/leadbridge/internal/proxy"
	"github.com/dropDatabas3/leadbridge/internal/rate"
	"github.com/dropDatabas3/leadbridge/internal/refresher"
	"github.com/dropDatabas3/leadbridge/internal/security/svcauth"
	"github.com/dropDatabas3/leadbridge/internal/store/pg"
	"github.com/dropDatabas3/leadbridge/internal/tenant"
	migrations "github.com/dropDatabas3/leadbridge/migrations/postgres"
)

func main() {
	root := &cobra.Command{
		Use:   "leadbridge",
		Short: "OAuth gateway entre el CRM y los servicios internos",
	}

	var configPath string
	root.PersistentFlags().StringVar(&configPath, "config", "", "path al config YAML (opcional, env manda)")

	root.AddCommand(
		newServeCmd(&configPath),
		newMigrateCmd(&configPath),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	_ = godotenv.Load()
	return config.Load(path)
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Levanta el token server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}

			logger.Init(logger.Config{
				Env:         cfg.App.Env,
				Level:       os.Getenv("LOG_LEVEL"),
				ServiceName: "leadbridge",
			})
			defer func() { _ = logger.Sync() }()
			log := logger.Named("serve")

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			store, err := pg.New(ctx, cfg.Storage.DSN, pg.Tuning{
				MaxOpenConns:    cfg.Storage.Postgres.MaxOpenConns,
				MaxIdleConns:    cfg.Storage.Postgres.MaxIdleConns,
				ConnMaxLifetime: cfg.Storage.Postgres.ConnMaxLifetime,
			})
			if err != nil {
				return fmt.Errorf("store: %w", err)
			}
			defer store.Close()

			// Cache: capa caliente del replay guard + rate limiter.
			var (
				c       cache.Cache
				limiter rate.Limiter
			)
			switch cfg.Cache.Kind {
			case "redis":
				rc := redcache.New(cfg.Cache.Redis.Addr, cfg.Cache.Redis.DB, cfg.Cache.Redis.Prefix)
				c = rc
				if cfg.Rate.Enabled {
					limiter = rate.NewRedisLimiter(rc.Client(), "lb:rl:",
						cfg.Rate.Start.Limit, config.Duration(cfg.Rate.Start.Window, time.Minute))
				}
			default:
				c = memcache.New(config.Duration(cfg.Cache.Memory.DefaultTTL, 2*time.Minute))
				if cfg.Rate.Enabled {
					limiter = rate.NewMemoryLimiter(cfg.Rate.Start.Limit,
						config.Duration(cfg.Rate.Start.Window, time.Minute))
				}
			}

			registry := prometheus.NewRegistry()
			m := metrics.New(registry)

			pc := provider.New(provider.Config{
				TokenURL:        cfg.Provider.TokenURL,
				APIBaseURL:      cfg.Provider.APIBaseURL,
				ClientID:        cfg.Provider.ClientID,
				ClientSecret:    cfg.Provider.ClientSecret,
				ExchangeTimeout: config.Duration(cfg.Provider.ExchangeTimeout, 30*time.Second),
				APITimeout:      config.Duration(cfg.Provider.APITimeout, 10*time.Second),
			})

			guard := oauth.NewGuard(store, c,
				config.Duration(cfg.OAuth.StateTTL, 15*time.Minute),
				config.Duration(cfg.OAuth.CodeTTL, 10*time.Minute),
				m,
			)
			svc := oauth.NewService(oauth.ServiceDeps{
				Repo:         store,
				Guard:        guard,
				Exchanger:    pc,
				Resolver:     tenant.New(pc, m),
				CookieSigner: oauth.NewStateCookieSigner(cfg.OAuth.StateCookieSecret),
				Metrics:      m,
				AuthorizeURL: cfg.Provider.AuthorizeURL,
				ClientID:     cfg.Provider.ClientID,
				RedirectURI:  cfg.Provider.RedirectURI,
				Scopes:       cfg.Provider.Scopes,
				StateTTL:     config.Duration(cfg.OAuth.StateTTL, 15*time.Minute),
			})

			tm := oauth.NewTokenManager(store, pc, m)
			gw := proxy.NewGateway(store, tm, pc,
				proxy.NewAllowList(cfg.Proxy.AllowedEndpoints),
				config.Duration(cfg.Proxy.RefreshSkew, 5*time.Minute),
				m,
			)

			verifier := svcauth.NewVerifier(svcauth.Config{
				Secret:   cfg.ServiceAuth.Secret,
				Audience: cfg.ServiceAuth.Audience,
				Issuers:  cfg.ServiceAuth.Issuers,
				MaxTTL:   config.Duration(cfg.ServiceAuth.MaxTTL, 5*time.Minute),
			})

			h := router.NewRouter(router.RouterDeps{
				OAuthStart:      handlers.NewOAuthStartHandler(svc),
				OAuthCallback:   handlers.NewOAuthCallbackHandler(svc),
				OAuthDisconnect: handlers.NewOAuthDisconnectHandler(svc),
				Proxy:           handlers.NewProxyHandler(gw),
				AdminList:       handlers.NewAdminInstallationsHandler(store),
				Health:          handlers.NewHealthHandler(store),
				ServiceAuth:     verifier,
				StartLimit:      limiter,
				Registry:        registry,
			})

			srv := httpx.NewServer(cfg.Server.Addr, h)
			g, gctx := errgroup.WithContext(ctx)

			g.Go(func() error {
				log.Info("listening", logger.String("addr", cfg.Server.Addr))
				if err := srv.ListenAndServe(); err != nil && err != httpx.ErrServerClosed {
					return err
				}
				return nil
			})
			if cfg.Refresher.Enabled {
				ref := refresher.New(store, tm,
					config.Duration(cfg.Refresher.Interval, time.Hour),
					config.Duration(cfg.Refresher.Lookahead, 2*time.Hour),
					config.Duration(cfg.Refresher.Cooldown, 30*time.Minute),
				)
				g.Go(func() error {
					err := ref.Run(gctx)
					if err == context.Canceled {
						return nil
					}
					return err
				})
			}
			g.Go(func() error {
				<-gctx.Done()
				log.Info("shutting down")
				return httpx.Shutdown(srv, 15*time.Second)
			})

			return g.Wait()
		},
	}
}

func newMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Aplica las migraciones embebidas en orden",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}

			ctx := context.Background()
			store, err := pg.New(ctx, cfg.Storage.DSN, pg.Tuning{})
			if err != nil {
				return fmt.Errorf("store: %w", err)
			}
			defer store.Close()

			entries, err := fs.ReadDir(migrations.FS, migrations.Dir)
			if err != nil {
				return err
			}
			names := make([]string, 0, len(entries))
			for _, e := range entries {
				if !e.IsDir() {
					names = append(names, e.Name())
				}
			}
			sort.Strings(names)

			for _, name := range names {
				sql, err := fs.ReadFile(migrations.FS, migrations.Dir+"/"+name)
				if err != nil {
					return err
				}
				if _, err := store.Pool().Exec(ctx, string(sql)); err != nil {
					return fmt.Errorf("migración %s: %w", name, err)
				}
				fmt.Printf("applied %s\n", name)
			}
			return nil
		},
	}
}
