package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"sats-arena/internal/app"
	"sats-arena/internal/config"
	"sats-arena/internal/domain"
	infraamqp "sats-arena/internal/infra/amqp"
	"sats-arena/internal/infra/catalogfile"
	"sats-arena/internal/infra/eventlog"
	"sats-arena/internal/infra/memory"
	pgstore "sats-arena/internal/infra/postgres"
	infraredis "sats-arena/internal/infra/redis"
	"sats-arena/internal/infra/sqlite"
	transport "sats-arena/internal/transport/http"
	"sats-arena/internal/world"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz arena server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg, logger); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 10*time.Minute)

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	catalogSrc, err := catalogSource(cfg, redisClient, pool)
	if err != nil {
		return err
	}
	catalog, err := catalogSrc.Load(ctx)
	if err != nil {
		return err
	}

	var sessions app.SessionRegistry
	var redisSessions *infraredis.SessionStore
	if redisClient != nil {
		redisSessions = infraredis.NewSessionStore(redisClient, redisTTL, logger)
		sessions = redisSessions
	} else {
		sessions = memory.NewSessionStore()
	}

	store, closeStore, err := profileStore(cfg, pool)
	if err != nil {
		return err
	}
	defer closeStore()

	events, closeEvents := eventSinks(cfg, logger)
	defer closeEvents()

	hub := world.NewHub(128, logger)
	positions := world.NewPositions()
	terrain := world.NewTerrain(func(areaID string, present []bool) {
		hub.Broadcast(world.Message{Type: world.MsgUI, Payload: domain.UIEvent{
			Type:      app.UIPlatformsLayout,
			AreaID:    areaID,
			Platforms: present,
		}})
	})

	areas, err := buildAreas(cfg.Areas)
	if err != nil {
		return err
	}
	arena, err := app.NewArena(app.ArenaOptions{
		Rules: app.Rules{
			QuestionDuration:     cfg.Game.QuestionDuration,
			SoloQuestionDuration: cfg.Game.SoloQuestionDuration,
			AdvanceDelay:         cfg.Game.AdvanceDelay,
			MaxSessionDuration:   cfg.Game.MaxSessionDuration,
			HideDistance:         cfg.Game.NPCHideDistance,
		},
		Catalog:   catalog,
		Areas:     areas,
		NPCs:      buildNPCs(cfg.NPCs),
		Sessions:  sessions,
		Ledger:    app.NewLedger(cfg.Game.StartingBalance),
		Positions: positions,
		Notifier:  hub,
		Terrain:   terrain,
		Events:    events,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	scheduler := app.NewScheduler(arena, cfg.Game.TickInterval, logger)
	profiles := app.NewProfiles(store, cfg.Game.StartingBalance, cfg.Profiles.SaveTimeout, logger)
	service := app.NewService(scheduler, profiles, hub, logger).WithCatalogSource(catalogSrc)
	wsHandler := transport.NewWSHandler(service, hub, positions, terrain, logger)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      transport.NewRouter(service, wsHandler, logger),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return scheduler.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("starting quiz arena", "addr", server.Addr, "quizzes", len(catalog.Quizzes()), "areas", len(areas))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		reloadCatalog(gctx, service, config.TTLDuration(cfg.Catalog.TTL, 10*time.Minute), logger)
		return nil
	})
	if redisSessions != nil {
		g.Go(func() error {
			refreshClaims(gctx, redisSessions, claimRefreshInterval(redisTTL), logger)
			return nil
		})
	}

	err = g.Wait()
	profiles.Wait()
	return err
}

// catalogSource picks the quiz loader and cache named by the config.
func catalogSource(cfg config.Config, redisClient *redis.Client, pool *pgxpool.Pool) (app.CatalogSource, error) {
	doc, err := catalogDocument(cfg.Catalog)
	if err != nil {
		return app.CatalogSource{}, err
	}

	var loader memory.QuizLoader = doc.Loader()
	if cfg.Catalog.Source == "postgres" {
		if pool == nil {
			return app.CatalogSource{}, fmt.Errorf("catalog source postgres needs postgres.url")
		}
		loader = pgstore.NewQuizLoader(pool)
	}

	quizTTL := config.TTLDuration(cfg.Catalog.TTL, 10*time.Minute)
	var repo app.QuizRepository
	if redisClient != nil {
		repo = infraredis.NewQuizRepository(redisClient, loader, quizTTL)
	} else {
		repo = memory.NewQuizRepository(loader, quizTTL)
	}
	return app.CatalogSource{Repo: repo, Lessons: doc.Lessons}, nil
}

// reloadCatalog rebuilds the catalog once per cache TTL so edits to the backing
// store reach new sessions without a restart.
func reloadCatalog(ctx context.Context, service *app.Service, every time.Duration, logger *slog.Logger) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := service.ReloadCatalog(ctx, false); err != nil && ctx.Err() == nil {
				logger.Warn("catalog reload failed, keeping current catalog", "err", err)
			}
		}
	}
}

// catalogDocument returns the quizzes and lessons named by the config. Lessons
// always come from a document, even when quizzes are served from Postgres.
func catalogDocument(cfg config.CatalogConfig) (catalogfile.Document, error) {
	if cfg.Path != "" {
		return catalogfile.Load(cfg.Path)
	}
	return catalogfile.Default()
}

func profileStore(cfg config.Config, pool *pgxpool.Pool) (app.ProfileStore, func(), error) {
	switch cfg.Profiles.Driver {
	case "postgres":
		if pool == nil {
			return nil, nil, fmt.Errorf("profiles driver postgres needs postgres.url")
		}
		return pgstore.NewProfileStore(pool), func() {}, nil
	case "sqlite":
		s, err := sqlite.Open(cfg.SQLite.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		return s, func() { _ = s.Close() }, nil
	default:
		return memory.NewProfileStore(), func() {}, nil
	}
}

// eventSinks wires the optional event log and broker. A broker that cannot be
// reached is logged and skipped.
func eventSinks(cfg config.Config, logger *slog.Logger) (app.EventSink, func()) {
	var (
		sinks   app.MultiSink
		closers []func() error
	)
	if cfg.Events.Dir != "" {
		s := eventlog.NewSink(cfg.Events.Dir, 1024, logger)
		sinks = append(sinks, s)
		closers = append(closers, s.Close)
	}
	if cfg.Events.AMQPURL != "" {
		p, err := infraamqp.Dial(cfg.Events.AMQPURL, cfg.Events.AMQPQueue, logger)
		if err != nil {
			logger.Warn("session events will not be published", "err", err)
		} else {
			sinks = append(sinks, p)
			closers = append(closers, p.Close)
		}
	}
	return sinks, func() {
		for _, c := range closers {
			if err := c(); err != nil {
				logger.Warn("close event sink", "err", err)
			}
		}
	}
}

func buildAreas(cfgs []config.AreaConfig) ([]app.Area, error) {
	areas := make([]app.Area, 0, len(cfgs))
	for _, a := range cfgs {
		platforms := make([]domain.Platform, len(a.Platforms))
		for i, p := range a.Platforms {
			platforms[i] = domain.Platform{
				Index:      i,
				Label:      p.Label,
				Center:     p.Center,
				OnRadius:   p.OnRadius,
				NearRadius: p.NearRadius,
			}
		}
		pm, err := app.NewPlatformMap(platforms, a.JoinZone)
		if err != nil {
			return nil, fmt.Errorf("area %s: %w", a.ID, err)
		}
		areas = append(areas, app.Area{ID: a.ID, Platforms: pm})
	}
	return areas, nil
}

func buildNPCs(cfgs []config.NPCConfig) []app.NPC {
	npcs := make([]app.NPC, 0, len(cfgs))
	for _, n := range cfgs {
		npcs = append(npcs, app.NPC{
			ID:       n.ID,
			Kind:     app.NPCKind(n.Kind),
			Ref:      n.Ref,
			AreaID:   n.AreaID,
			Position: n.Position,
			Radius:   n.Radius,
		})
	}
	return npcs
}

// claimRefreshInterval keeps markers alive well within their TTL and retries
// deferred releases within seconds.
func claimRefreshInterval(ttl time.Duration) time.Duration {
	every := ttl / 3
	if every <= 0 || every > 10*time.Second {
		every = 10 * time.Second
	}
	return every
}

func refreshClaims(ctx context.Context, store *infraredis.SessionStore, every time.Duration, logger *slog.Logger) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := store.Refresh(ctx); err != nil {
				logger.Warn("refresh session claims", "err", err)
			}
		}
	}
}
