/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"context"
	"crypto/rand"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"github.com/tomoncle/hotellisting/api"
	"github.com/tomoncle/hotellisting/auth"
	"github.com/tomoncle/hotellisting/config"
	"github.com/tomoncle/hotellisting/database"
	"github.com/tomoncle/hotellisting/metrics"
	"github.com/tomoncle/hotellisting/models"
	"github.com/tomoncle/hotellisting/repository"
	"github.com/tomoncle/hotellisting/utils"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", utils.EnvDefaultString("CONFIG_FILE", ""), "path to the YAML config file")
	envFile := flag.String("env-file", ".env", "path to an optional .env file")
	rotateKey := flag.Bool("rotate-key", false, "publish a new signing key to Redis and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if *rotateKey {
		utils.ConfigureConsoleOutput(os.Stderr)
	}
	utils.ConfigureLogLevel(cfg.Log.Level)
	utils.ConfigureConsoleLogFormat(cfg.Log.Format)
	utils.ConfigureFileLog(cfg.Log.FileEnabled, cfg.Log.FileDir, cfg.Log.MaxAgeDays)
	log := utils.NewLogger("MAIN")
	database.InitLogger(database.NewLogrusLogger("DATABASE"))

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *rotateKey {
		if err := rotateSigningKey(ctx, cfg); err != nil {
			log.Fatalf("Rotate signing key: %v", err)
		}
		return
	}
	if err := run(ctx, cfg, log); err != nil {
		log.WithError(err).Error("Server stopped with error")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *utils.Logger) error {
	if cfg.IsDevelopment() {
		cfg.Database.ConnectionConfig.EnableQueryLog = true
		log.Warn("Development mode: SQL query log enabled")
	}
	migrations, err := startupMigrations(cfg)
	if err != nil {
		return err
	}
	db, err := database.InitDB(ctx, &cfg.Database, migrations...)
	if err != nil {
		return err
	}
	defer func() {
		stats := database.GetDatabaseStats()
		log.WithField("open", stats.OpenConns).
			WithField("wait_count", stats.WaitCount).
			WithField("wait_duration", stats.WaitDuration).
			Info("Closing database")
		if err := database.CloseDB(); err != nil {
			log.WithError(err).Warn("Close database")
		}
	}()
	manager := database.GetDatabaseManager()

	keys, closeKeys, err := newKeySource(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeKeys()

	authority, err := auth.NewAuthority(cfg.Auth, keys)
	if err != nil {
		return err
	}

	srv := api.NewServer(api.Deps{
		UnitOfWork: repository.NewFactory(db, repository.WithRetryPolicy(manager.RetryPolicy())),
		Authority:  authority,
		Health:     database.GetHealthStatus,
		Registry:   metrics.InitRegistry(),
		TokenTTL:   cfg.Auth.TTL,
	}, api.Options{
		RequestTimeout:     cfg.HTTP.RequestTimeout,
		LoginRatePerMinute: cfg.HTTP.LoginRatePerMinute,
		LoginBurst:         cfg.HTTP.LoginBurst,
	})
	httpSrv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithField("addr", cfg.HTTP.Addr).Info("API listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func startupMigrations(cfg *config.Config) ([]database.MigrationItem, error) {
	var items []database.MigrationItem
	if cfg.Seed {
		items = append(items, models.SeedReferenceData())
	}
	if cfg.Admin.Email != "" {
		hash, err := auth.HashPassword(cfg.Admin.Password)
		if err != nil {
			return nil, fmt.Errorf("hash admin password: %w", err)
		}
		items = append(items, models.BootstrapAdmin(cfg.Admin.Email, hash))
	}
	return items, nil
}

func newRedisClient(cfg *config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
}

// newKeySource builds the configured key source. A Redis source without a
// current key is seeded from the configured static key when one is set.
func newKeySource(ctx context.Context, cfg *config.Config) (auth.KeySource, func(), error) {
	if cfg.Auth.KeySource != auth.KeySourceRedis {
		keys, err := auth.NewStaticKey(cfg.Auth.KeyID, []byte(cfg.Auth.Key))
		return keys, func() {}, err
	}

	client := newRedisClient(cfg)
	closeFn := func() { _ = client.Close() }
	if err := client.Ping(ctx).Err(); err != nil {
		closeFn()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	keys := auth.NewRedisKeySource(client, cfg.Redis.KeyPrefix)
	if _, err := keys.SigningKey(ctx); errors.Is(err, auth.ErrUnknownKey) && cfg.Auth.Key != "" {
		if err := keys.Publish(ctx, auth.Key{ID: cfg.Auth.KeyID, Secret: []byte(cfg.Auth.Key)}); err != nil {
			closeFn()
			return nil, nil, err
		}
	} else if err != nil && !errors.Is(err, auth.ErrUnknownKey) {
		closeFn()
		return nil, nil, err
	}
	return keys, closeFn, nil
}

func rotateSigningKey(ctx context.Context, cfg *config.Config) error {
	if cfg.Auth.KeySource != auth.KeySourceRedis {
		return errors.New("key rotation requires the redis key source")
	}
	client := newRedisClient(cfg)
	defer client.Close()

	secret := make([]byte, 48)
	if _, err := rand.Read(secret); err != nil {
		return err
	}
	kid := ulid.MustNew(ulid.Timestamp(time.Now()), ulid.DefaultEntropy()).String()
	if err := auth.NewRedisKeySource(client, cfg.Redis.KeyPrefix).Publish(ctx, auth.Key{ID: kid, Secret: secret}); err != nil {
		return err
	}
	fmt.Println(kid)
	return nil
}
