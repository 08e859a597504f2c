// Command api serves the account API.
//
//	@title						Account API
//	@version					1.0
//	@description				User registration, login and role-checked user listing.
//	@BasePath					/
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				Type "Bearer" followed by a space and the session token.
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/userhub/account-api/internal/api"
	"github.com/userhub/account-api/internal/api/handler"
	"github.com/userhub/account-api/internal/core/service"
	mongodb "github.com/userhub/account-api/internal/infrastructure/db/mongo"
	redisdb "github.com/userhub/account-api/internal/infrastructure/db/redis"
	"github.com/userhub/account-api/internal/pkg/config"
	"github.com/userhub/account-api/pkg/logger"
)

const serviceName = "account-api"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	boot := logger.New(logger.Options{Service: serviceName})
	cfg, err := config.Load(ctx)
	if err != nil {
		boot.Fatal().Err(err).Msg("invalid configuration")
	}

	logger.Init(logger.Options{
		Level:   cfg.LogLevel,
		Pretty:  cfg.LogPretty || cfg.IsDevelopment(),
		Service: serviceName,
	})

	if err := run(ctx, cfg); err != nil {
		log := logger.Get()
		log.Fatal().Err(err).Msg("server stopped")
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	log := logger.Get()

	tokens, err := service.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err != nil {
		return err
	}

	client, db, err := mongodb.Connect(ctx, mongodb.Config{
		URI:      cfg.Mongo.URI,
		Database: cfg.Mongo.Database,
		AppName:  serviceName,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := mongodb.Disconnect(client, cfg.ShutdownTimeout); err != nil {
			log.Warn().Err(err).Msg("mongo disconnect")
		}
	}()
	log.Info().Str("database", cfg.Mongo.Database).Msg("mongodb connected")

	// Redis only backs registration idempotency keys; startup continues
	// without it.
	rdb := redisdb.NewClient(redisdb.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	if err := redisdb.Ping(ctx, rdb, 0); err != nil {
		log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis unreachable, idempotency keys disabled until it recovers")
	} else {
		log.Info().Str("addr", cfg.Redis.Addr).Msg("redis connected")
	}

	users := mongodb.NewUserRepository(db)
	if err := users.EnsureIndexes(ctx); err != nil {
		return err
	}

	accounts := service.NewAccountService(
		users,
		service.NewBcryptHasher(cfg.Auth.BcryptCost),
		tokens,
		redisdb.NewRegistrationGuard(rdb, 0),
		log,
	)

	if cfg.Admin.Enabled() {
		admin, created, err := accounts.EnsureAdmin(ctx, cfg.Admin.Name, cfg.Admin.Email, cfg.Admin.Password)
		if err != nil {
			return err
		}
		log.Info().Str("user_id", admin.ID).Bool("created", created).Msg("admin account ready")
	}

	e := api.NewRouter(api.Dependencies{
		Accounts: accounts,
		Tokens:   tokens,
		Health: []handler.Dependency{
			{Name: "mongodb", Check: handler.MongoCheck(db)},
			{Name: "redis", Check: handler.RedisCheck(rdb), Optional: true},
		},
		Log: log,
	})

	srv := &http.Server{
		Addr:    net.JoinHostPort("", cfg.Port),
		Handler: e,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
