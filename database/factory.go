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

package database

import (
	"context"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/tomoncle/hotellisting/utils"
	"github.com/uptrace/bun"
)

var supportedTypes = []string{"mysql", "postgres", "sqlite"}

// BaseDatabaseFactory creates and manages a configured database manager and
// provides helpers for initialization, health checks, and statistics.
type BaseDatabaseFactory struct {
	manager AbstractDatabaseManager
	logger  Logger
}

// NewDatabaseFactory returns a new database factory using the package logger.
func NewDatabaseFactory() *BaseDatabaseFactory {
	return &BaseDatabaseFactory{
		logger: GetLogger(),
	}
}

// CreateFromConfig constructs a database manager from cfg after applying
// environment overrides.
func (f *BaseDatabaseFactory) CreateFromConfig(cfg *Config) (AbstractDatabaseManager, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database configuration cannot be empty")
	}

	OverrideFromEnv(&cfg.ConnectionConfig)

	if !slices.Contains(supportedTypes, cfg.ConnectionConfig.Type) {
		return nil, fmt.Errorf("unsupported database type: %s, supported types: %v", cfg.ConnectionConfig.Type, supportedTypes)
	}

	manager := newDatabaseManager(&cfg.ConnectionConfig, cfg.DataMigrateConfig)
	manager.SetLogger(f.logger)

	f.manager = manager
	return manager, nil
}

// OverrideFromEnv overrides connection values from DB_* environment variables.
// Durations are given in seconds, retry delays in milliseconds.
func OverrideFromEnv(cfg *ConnectionConfig) {
	cfg.Type = utils.EnvDefaultString("DB_TYPE", cfg.Type)
	cfg.Host = utils.EnvDefaultString("DB_HOST", cfg.Host)
	cfg.Port = utils.EnvDefaultInt("DB_PORT", cfg.Port)
	cfg.Username = utils.EnvDefaultString("DB_USERNAME", cfg.Username)
	cfg.Password = utils.EnvDefaultString("DB_PASSWORD", cfg.Password)
	cfg.DBName = utils.EnvDefaultString("DB_NAME", cfg.DBName)
	cfg.SSLMode = utils.EnvDefaultString("DB_SSLMODE", cfg.SSLMode)
	cfg.MaxIdleConns = utils.EnvDefaultInt("DB_MAX_IDLE_CONNS", cfg.MaxIdleConns)
	cfg.MaxOpenConns = utils.EnvDefaultInt("DB_MAX_OPEN_CONNS", cfg.MaxOpenConns)
	cfg.ConnMaxLifetime = envSeconds("DB_CONN_MAX_LIFETIME", cfg.ConnMaxLifetime)
	cfg.SlowQueryTime = envSeconds("DB_SLOW_QUERY_TIME", cfg.SlowQueryTime)
	cfg.RetryMaxAttempts = utils.EnvDefaultInt("DB_RETRY_MAX_ATTEMPTS", cfg.RetryMaxAttempts)
	cfg.RetryInitialDelay = envMillis("DB_RETRY_INITIAL_DELAY_MS", cfg.RetryInitialDelay)
	cfg.RetryMaxDelay = envMillis("DB_RETRY_MAX_DELAY_MS", cfg.RetryMaxDelay)
	cfg.EnableQueryLog = utils.EnvDefaultBool("DB_ENABLE_QUERY_LOG", cfg.EnableQueryLog)
}

func envSeconds(key string, def time.Duration) time.Duration {
	return envDuration(key, def, time.Second)
}

func envMillis(key string, def time.Duration) time.Duration {
	return envDuration(key, def, time.Millisecond)
}

func envDuration(key string, def, unit time.Duration) time.Duration {
	if os.Getenv(key) == "" {
		return def
	}
	return time.Duration(utils.EnvDefaultInt(key, int(def/unit))) * unit
}

// InitializeDatabase connects to the database and optionally runs migrations.
func (f *BaseDatabaseFactory) InitializeDatabase(ctx context.Context, runMigrations bool, extra ...MigrationItem) error {
	if f.manager == nil {
		return fmt.Errorf("database manager not created")
	}

	if err := f.manager.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	if runMigrations {
		if err := f.manager.RunMigrations(ctx, extra...); err != nil {
			return fmt.Errorf("failed to run database migrations: %w", err)
		}
	}
	f.logger.Info("Database initialization completed!")
	return nil
}

// GetManager returns the underlying database manager.
func (f *BaseDatabaseFactory) GetManager() AbstractDatabaseManager {
	return f.manager
}

// GetDB returns the Bun database instance, or nil if not initialized.
func (f *BaseDatabaseFactory) GetDB() *bun.DB {
	if f.manager == nil {
		return nil
	}
	return f.manager.GetDB()
}

// SetLogger sets the logger on the factory and the underlying manager.
func (f *BaseDatabaseFactory) SetLogger(logger Logger) {
	f.logger = logger
	if f.manager != nil {
		f.manager.SetLogger(logger)
	}
}

// Close closes the database connection managed by the factory.
func (f *BaseDatabaseFactory) Close() error {
	if f.manager == nil {
		return nil
	}
	return f.manager.Disconnect()
}

// GetHealthStatus returns the current database health status from the manager.
func (f *BaseDatabaseFactory) GetHealthStatus(ctx context.Context) *HealthStatus {
	if f.manager == nil {
		return &HealthStatus{
			LastError:     "Database manager not initialized",
			LastCheckTime: time.Now(),
		}
	}
	return f.manager.HealthCheck(ctx)
}

// GetStats returns database connection statistics from the manager.
func (f *BaseDatabaseFactory) GetStats() *DBStats {
	if f.manager == nil {
		return &DBStats{}
	}
	return f.manager.GetStats()
}
