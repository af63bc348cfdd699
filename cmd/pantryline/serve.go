package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robfig/cron/v3"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/pantryline/pantryline/internal/aggregate"
	"github.com/pantryline/pantryline/internal/config"
	"github.com/pantryline/pantryline/internal/db"
	"github.com/pantryline/pantryline/internal/dify"
	"github.com/pantryline/pantryline/internal/gemini"
	"github.com/pantryline/pantryline/internal/handlers"
	"github.com/pantryline/pantryline/internal/imagestore"
	"github.com/pantryline/pantryline/internal/inventory"
	"github.com/pantryline/pantryline/internal/line"
	"github.com/pantryline/pantryline/internal/logger"
	"github.com/pantryline/pantryline/internal/recipe"
	"github.com/pantryline/pantryline/internal/record"
	"github.com/pantryline/pantryline/internal/router"
	"github.com/pantryline/pantryline/internal/server"
	"github.com/pantryline/pantryline/internal/session"
)

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideDBConn,
			provideInventoryStore,
			provideLedger,
			inventory.NewOrdinalIndex,
			session.NewStore,
			provideLineClient,
			provideDifyClient,
			provideGeminiClient,
			provideImageStore,
			provideRecipeStore,
			provideRecipeService,
			provideRecordService,
			provideRecipeAggregator,
			provideRecordAggregator,
			provideRouter,
			provideJanitor,
			provideServerHandler(provideWebhookHandler),
			provideServerHandler(provideImageHandler),
			provideServerHandler(handlers.NewPingHandler),
			provideServer,
		),
		fx.Invoke(
			startJanitor,
			startServer,
		),
		fx.WithLogger(func(log *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: log.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func provideConfig() (config.Config, error) {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideDBConn(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.Postgres); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	pool, err := db.Open(context.Background(), cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { pool.Close(); return nil }})
	return pool, nil
}

func provideInventoryStore(pool *pgxpool.Pool) inventory.Store {
	return inventory.NewPgStore(pool)
}

func provideLedger(log *slog.Logger, store inventory.Store) *inventory.Ledger {
	return inventory.NewLedger(log, store)
}

func provideLineClient(log *slog.Logger, cfg config.Config) *line.Client {
	return line.NewClient(log, cfg.Line)
}

func provideDifyClient(log *slog.Logger, cfg config.Config) *dify.Client {
	return dify.NewClient(log, cfg.Dify)
}

func provideGeminiClient(log *slog.Logger, cfg config.Config) *gemini.Client {
	return gemini.NewClient(log, cfg.Gemini)
}

func provideImageStore(log *slog.Logger, cfg config.Config) *imagestore.Store {
	return imagestore.NewStore(log, cfg.Server.BaseURL, cfg.Retention.GeneratedImageTTL())
}

func provideRecipeStore(cfg config.Config) *recipe.Store {
	return recipe.NewStore(cfg.Retention.RecipeTTL())
}

func provideRecipeService(log *slog.Logger, lineClient *line.Client, difyClient *dify.Client, geminiClient *gemini.Client, images *imagestore.Store, store *recipe.Store) *recipe.Service {
	return recipe.NewService(log, lineClient, difyClient, geminiClient, images, store)
}

func provideRecordService(log *slog.Logger, lineClient *line.Client, difyClient *dify.Client, ledger *inventory.Ledger) *record.Service {
	return record.NewService(log, lineClient, difyClient, ledger)
}

// The two aggregators share one type; the wrappers keep them apart in the
// dependency graph.
type recipeAggregator struct{ *aggregate.Aggregator }
type recordAggregator struct{ *aggregate.Aggregator }

func provideRecipeAggregator(lc fx.Lifecycle, log *slog.Logger, cfg config.Config, svc *recipe.Service) recipeAggregator {
	agg := aggregate.New(log, "recipe", cfg.Aggregate.RecipeWindow(), cfg.Aggregate.FlushWorkers, svc.Process)
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { agg.Stop(); return nil }})
	return recipeAggregator{agg}
}

func provideRecordAggregator(lc fx.Lifecycle, log *slog.Logger, cfg config.Config, svc *record.Service) recordAggregator {
	agg := aggregate.New(log, "record", cfg.Aggregate.RecordWindow(), cfg.Aggregate.FlushWorkers, svc.Process)
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { agg.Stop(); return nil }})
	return recordAggregator{agg}
}

func provideRouter(log *slog.Logger, lineClient *line.Client, ledger *inventory.Ledger, sessions *session.Store, ordinals *inventory.OrdinalIndex, recipes recipeAggregator, records recordAggregator, recipeSvc *recipe.Service) *router.Router {
	return router.New(log, lineClient, ledger, sessions, ordinals, recipes, records, recipeSvc)
}

func provideWebhookHandler(log *slog.Logger, cfg config.Config, dispatcher *router.Router) *handlers.WebhookHandler {
	return handlers.NewWebhookHandler(log, cfg.Line.ChannelSecret, dispatcher)
}

func provideImageHandler(log *slog.Logger, store *imagestore.Store) *handlers.ImageHandler {
	return handlers.NewImageHandler(log, store)
}

// provideJanitor schedules the TTL sweeps: generated images, stored recipe
// analyses and idle sessions.
func provideJanitor(log *slog.Logger, cfg config.Config, images *imagestore.Store, recipes *recipe.Store, sessions *session.Store) (*cron.Cron, error) {
	c := cron.New()
	jobs := []struct {
		name string
		fn   func()
	}{
		{"image sweep", func() { images.Sweep() }},
		{"recipe sweep", func() { recipes.Sweep() }},
		{"session sweep", func() {
			if removed := sessions.SweepIdle(cfg.Retention.SessionIdleTTL()); removed > 0 {
				log.Info("swept idle sessions", slog.Int("removed", removed))
			}
		}},
	}
	for _, job := range jobs {
		if _, err := c.AddFunc("@every 1m", job.fn); err != nil {
			return nil, fmt.Errorf("schedule %s: %w", job.name, err)
		}
	}
	return c, nil
}

type serverParams struct {
	fx.In
	Logger   *slog.Logger
	Config   config.Config
	Handlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.NewServer(params.Logger, params.Config.Server.Addr, params.Handlers...)
}

func startJanitor(lc fx.Lifecycle, c *cron.Cron) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { c.Start(); return nil },
		OnStop: func(ctx context.Context) error {
			<-c.Stop().Done()
			return nil
		},
	})
}

func startServer(lc fx.Lifecycle, log *slog.Logger, srv *server.Server, cfg config.Config, shutdowner fx.Shutdowner) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("starting server", slog.String("addr", cfg.Server.Addr))
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
