package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	nats "github.com/nats-io/nats.go"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"

	"github.com/example/orcid-service/config"
	httpadapter "github.com/example/orcid-service/internal/adapters/http"
	apiv1 "github.com/example/orcid-service/internal/adapters/http/api/v1"
	handlers "github.com/example/orcid-service/internal/adapters/http/api/v1/handlers"
	sessionmw "github.com/example/orcid-service/internal/adapters/http/middleware"
	natsadapter "github.com/example/orcid-service/internal/adapters/nats"
	repo "github.com/example/orcid-service/internal/adapters/postgres"
	"github.com/example/orcid-service/internal/orcid"
	"github.com/example/orcid-service/internal/tokenverify"
	"github.com/example/orcid-service/internal/usecase"
	"github.com/example/orcid-service/internal/worker"
	pkglog "github.com/example/orcid-service/pkg/log"
)

const natsDrainTimeout = 10 * time.Second

type App struct {
	cfg        *config.Config
	logger     pkglog.Logger
	db         *gorm.DB
	natsConn   *nats.Conn
	natsClosed chan struct{}
	pool       *worker.Pool
	echo       *echo.Echo
}

func New(ctx context.Context) (*App, error) {
	cfg := config.MustLoad()
	logger := pkglog.New(cfg.AppEnv)

	stateSigner, err := usecase.NewStateSigner(cfg)
	if err != nil {
		return nil, err
	}
	sessions, err := usecase.NewSessionVerifier(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(postgres.Open(buildDSN(cfg)), &gorm.Config{
		Logger:         loggerForGorm(cfg),
		NamingStrategy: schema.NamingStrategy{SingularTable: true},
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(repo.Models()...); err != nil {
		return nil, err
	}

	contexts := repo.NewContextRepository(db)
	identities := repo.NewIdentityRepository(db)
	submissions := repo.NewSubmissionRepository(db)
	putCodes := repo.NewPutCodeRepository(db)

	client := orcid.NewClient(cfg.HTTPTimeout,
		orcid.WithVersion(cfg.APIVersion),
		orcid.WithRateLimit(cfg.RateLimit, cfg.RateBurst),
		orcid.WithLogger(logger),
	)
	payloads := orcid.NewPayloadBuilder()
	gate := tokenverify.NewGate(identities, logger, time.Now)

	executor := usecase.NewExecutor(logger, contexts, identities, putCodes, client, gate)
	pool := worker.NewPool(executor, worker.Options{
		Workers:         cfg.DepositWorkers,
		Buffer:          cfg.DepositBuffer,
		RetryInitial:    cfg.DepositRetryInitial,
		RetryMaxElapsed: cfg.DepositRetryMaxElapsed,
	}, logger, worker.LogReporter(logger))
	pool.Start(ctx)

	natsClosed := make(chan struct{})
	nc, err := nats.Connect(cfg.NATSURL, nats.Name(cfg.AppName), nats.ClosedHandler(func(*nats.Conn) { close(natsClosed) }))
	if err != nil {
		logger.Warn().Err(err).Str("url", cfg.NATSURL).Msg("nats connect failed")
		nc = nil
	}

	var queue usecase.Queue = pool
	if cfg.DepositQueue == config.QueueNATS {
		if nc == nil {
			logger.Warn().Msg("nats unavailable, deposit units stay in process")
		} else {
			if err := natsadapter.NewConsumer(pool, logger).Subscribe(nc, cfg.NATSDepositSubject, cfg.AppName); err != nil {
				pool.Stop()
				nc.Close()
				return nil, fmt.Errorf("subscribe deposit units: %w", err)
			}
			queue = natsadapter.NewPublisher(nc, cfg.NATSDepositSubject)
		}
	}

	deposits := usecase.NewDepositService(logger, contexts, identities, submissions, gate, payloads, payloads, queue)

	if nc != nil {
		events := natsadapter.NewEventHandler(deposits, logger)
		if err := events.Subscribe(nc, cfg.NATSPublishedSubject, cfg.NATSReviewSubject, cfg.AppName); err != nil {
			logger.Error().Err(err).Msg("event subscription failed")
		}
	}

	mailer := natsadapter.NewMailPublisher(nc, cfg.NATSMailSubject)
	coordinator := usecase.NewHandshakeCoordinator(cfg, logger, client, stateSigner, contexts, identities, submissions, deposits, mailer)
	handler := handlers.NewOrcidHandler(coordinator, deposits, logger)
	mw := sessionmw.NewSessionMiddleware(sessions)
	router := httpadapter.NewRouter(cfg, apiv1.NewRouter(handler, mw.Handler, mw.Optional))

	e := echo.New()
	router.Setup(e)

	logger.Info().Str("queue", cfg.DepositQueue).Int("workers", cfg.DepositWorkers).Msg("orcid service initialised")
	return &App{cfg: cfg, logger: logger, db: db, natsConn: nc, natsClosed: natsClosed, pool: pool, echo: e}, nil
}

func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.echo.Shutdown(shutdownCtx)
	}()
	go func() {
		errCh <- a.echo.Start(fmt.Sprintf("%s:%s", a.cfg.HTTPHost, a.cfg.HTTPPort))
	}()
	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Close waits for NATS to finish draining before stopping the pool so
// consumed units still run.
func (a *App) Close() {
	if a.natsConn != nil {
		if err := drain(a.natsConn, a.natsClosed, natsDrainTimeout); err != nil {
			a.logger.Warn().Err(err).Msg("nats drain incomplete")
		}
	}
	if a.pool != nil {
		a.pool.Stop()
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}

type drainer interface {
	Drain() error
}

// drain returns once the connection reports closed. Drain itself only starts
// the process.
func drain(conn drainer, closed <-chan struct{}, timeout time.Duration) error {
	if err := conn.Drain(); err != nil {
		return err
	}
	select {
	case <-closed:
		return nil
	case <-time.After(timeout):
		return errors.New("nats drain timed out")
	}
}

func buildDSN(cfg *config.Config) string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s", cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBSSLMode)
}

func loggerForGorm(cfg *config.Config) logger.Interface {
	level := logger.Silent
	switch cfg.AppEnv {
	case "local":
		level = logger.Info
	default:
		level = logger.Warn
	}
	return logger.Default.LogMode(level)
}
