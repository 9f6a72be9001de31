// Command api runs the account service HTTP server.
//
//	@title						Account Service API
//	@version					1.0
//	@description				Registration, authentication and signed access tokens.
//	@BasePath					/
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/99minutos/account-service/internal/api"
	"github.com/99minutos/account-service/internal/api/handler"
	"github.com/99minutos/account-service/internal/core/ports"
	"github.com/99minutos/account-service/internal/core/service"
	"github.com/99minutos/account-service/internal/infrastructure/db/memory"
	mongostore "github.com/99minutos/account-service/internal/infrastructure/db/mongo"
	"github.com/99minutos/account-service/internal/infrastructure/db/postgres"
	redisstore "github.com/99minutos/account-service/internal/infrastructure/db/redis"
	"github.com/99minutos/account-service/internal/pkg/config"
	"github.com/99minutos/account-service/pkg/logger"
)

const serviceName = "account-service"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", serviceName, err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}

	log := logger.Init(logger.Options{
		Level:   cfg.LogLevel,
		Pretty:  cfg.LogPretty,
		Service: serviceName,
		Env:     cfg.Env,
	})

	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	checks := map[string]handler.Checker{cfg.StoreDriver: store}

	var cache ports.RoleCache
	switch namespace := cfg.RoleCacheNamespace(); {
	case cfg.Redis.Addr == "":
	case namespace == "":
		log.Info().Msg("role cache disabled for the in-memory store")
	default:
		rdb, err := redisstore.Connect(ctx, redisstore.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return err
		}
		defer rdb.Close()

		cache = redisstore.NewRoleCache(rdb, namespace, cfg.Redis.RoleCacheTTL)
		checks["redis"] = handler.CheckerFunc(func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
	}

	roles := service.NewRoleBootstrapper(store, cache, log)
	tokens := service.NewTokenIssuer(store, service.TokenConfig{
		SigningKey: []byte(cfg.Token.Secret),
		Issuer:     cfg.Token.Issuer,
		Audience:   cfg.Token.Audience,
		Lifetime:   cfg.Token.Lifetime,
	}, log)
	accounts, err := service.NewAccountService(store, roles, tokens, service.AccountConfig{
		DefaultRole:    cfg.Accounts.DefaultRole,
		BootstrapRoles: cfg.Accounts.BootstrapRoles,
		BcryptCost:     cfg.Password.BcryptCost,
		Policy: service.PasswordPolicy{
			MinLength:     cfg.Password.MinLength,
			RequireDigit:  cfg.Password.RequireDigit,
			RequireLower:  cfg.Password.RequireLower,
			RequireUpper:  cfg.Password.RequireUpper,
			RequireSymbol: cfg.Password.RequireSymbol,
		},
	}, log)
	if err != nil {
		return err
	}

	bootstrap := append([]string{cfg.Accounts.DefaultRole}, cfg.Accounts.BootstrapRoles...)
	if err := roles.EnsureRoles(ctx, bootstrap...); err != nil {
		log.Warn().Err(err).Msg("startup role bootstrap failed, roles will be created on first registration")
	}

	e := api.NewRouter(api.Dependencies{
		Accounts:       accounts,
		Tokens:         tokens,
		Checks:         checks,
		ListUsersRoles: cfg.Accounts.ListUsersRoles,
		Log:            log,
		Registerer:     prometheus.DefaultRegisterer,
		Gatherer:       prometheus.DefaultGatherer,
	})

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.Port).Str("store", cfg.StoreDriver).Msg("http server listening")
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

// openStore connects the configured credential store and returns a function
// releasing its resources.
func openStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (ports.CredentialStore, func(), error) {
	switch cfg.StoreDriver {
	case config.StorePostgres:
		db, err := postgres.Open(ctx, postgres.Config{
			DSN:          cfg.Postgres.DSN,
			MaxOpenConns: cfg.Postgres.MaxOpenConns,
		})
		if err != nil {
			return nil, nil, err
		}
		store, err := postgres.NewCredentialStore(ctx, db)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return store, func() { _ = db.Close() }, nil

	case config.StoreMemory:
		log.Warn().Msg("using in-memory credential store, data is lost on restart")
		return memory.NewCredentialStore(), func() {}, nil

	default:
		client, db, err := mongostore.Connect(ctx, mongostore.Config{
			URI:      cfg.Mongo.URI,
			Database: cfg.Mongo.Database,
		})
		if err != nil {
			return nil, nil, err
		}
		disconnect := func() {
			dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = client.Disconnect(dctx)
		}
		store, err := mongostore.NewCredentialStore(ctx, db)
		if err != nil {
			disconnect()
			return nil, nil, err
		}
		return store, disconnect, nil
	}
}
