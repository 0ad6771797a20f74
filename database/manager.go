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
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/extra/bundebug"
	"github.com/uptrace/bun/schema"
)

// MemoryDBName selects a private in-memory sqlite database.
const MemoryDBName = ":memory:"

const healthCheckTimeout = 5 * time.Second

var memoryDBSeq atomic.Int64

type defaultDatabaseManager struct {
	config        *ConnectionConfig
	migrateConfig DataMigrateConfig
	logger        Logger

	mu    sync.RWMutex
	db    *bun.DB
	sqlDB *sql.DB
}

// NewDatabaseManager returns an AbstractDatabaseManager backed by Bun.
// If config is nil, the default configuration is used.
func NewDatabaseManager(config *ConnectionConfig) AbstractDatabaseManager {
	return newDatabaseManager(config, DataMigrateConfig{})
}

func newDatabaseManager(config *ConnectionConfig, migrate DataMigrateConfig) *defaultDatabaseManager {
	if config == nil {
		config = DefaultConnectionConfig()
	}
	return &defaultDatabaseManager{config: config, migrateConfig: migrate, logger: GetLogger()}
}

func (dm *defaultDatabaseManager) isSQLite() bool {
	return dm.config.Type == "sqlite" || dm.config.Type == "sqlite3"
}

// Connect opens the pool, verifies it with a ping and registers the models.
// Calling it on a connected manager is a no-op.
func (dm *defaultDatabaseManager) Connect(ctx context.Context) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.db != nil {
		return nil
	}
	if dm.config.ConnectTimeout <= 0 {
		dm.config.ConnectTimeout = 30 * time.Second
	}

	driverName, dsn, dialect, err := dm.dataSource()
	if err != nil {
		return err
	}
	sqlDB, err := sql.Open(driverName, dsn)
	if err != nil {
		return fmt.Errorf("open %s database: %w", dm.config.Type, err)
	}
	dm.configurePool(sqlDB)
	db := bun.NewDB(sqlDB, dialect)

	ctx, cancel := context.WithTimeout(ctx, dm.config.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("ping %s database: %w", dm.config.Type, err)
	}
	if dm.isSQLite() {
		if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
			_ = db.Close()
			return fmt.Errorf("enable sqlite foreign keys: %w", err)
		}
	}

	dm.addHooks(db)
	db.RegisterModel(RegisteredModelInstances()...)
	dm.db, dm.sqlDB = db, sqlDB
	dm.logger.Info("Database connected", "type", dm.config.Type, "host", dm.config.Host, "dbname", dm.config.DBName)
	return nil
}

// dataSource returns the driver name, DSN and bun dialect for the configured
// database type.
func (dm *defaultDatabaseManager) dataSource() (string, string, schema.Dialect, error) {
	c := dm.config
	switch c.Type {
	case "mysql":
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local&timeout=%s&readTimeout=%s&writeTimeout=%s",
			c.Username, c.Password, c.Host, c.Port, c.DBName, c.ConnectTimeout, c.ReadTimeout, c.WriteTimeout)
		return "mysql", dsn, mysqldialect.New(), nil
	case "postgres", "postgresql":
		sslMode := c.SSLMode
		if sslMode == "" {
			sslMode = "disable"
		}
		dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s&connect_timeout=%d",
			c.Username, c.Password, c.Host, c.Port, c.DBName, sslMode, int(c.ConnectTimeout.Seconds()))
		return "postgres", dsn, pgdialect.New(), nil
	case "sqlite", "sqlite3":
		dsn := fmt.Sprintf("file:%s.db?cache=shared", c.DBName)
		if c.DBName == MemoryDBName || c.DBName == "" {
			dsn = fmt.Sprintf("file:memdb%d?mode=memory&cache=shared", memoryDBSeq.Add(1))
		}
		return sqliteshim.ShimName, dsn, sqlitedialect.New(), nil
	default:
		return "", "", nil, fmt.Errorf("unsupported database type: %s", c.Type)
	}
}

func (dm *defaultDatabaseManager) configurePool(sqlDB *sql.DB) {
	// sqlite pragmas are per connection and an in-memory database lives only
	// as long as its connection, so sqlite keeps exactly one.
	if dm.isSQLite() {
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
		return
	}
	sqlDB.SetMaxIdleConns(dm.config.MaxIdleConns)
	sqlDB.SetMaxOpenConns(dm.config.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(dm.config.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(dm.config.ConnMaxIdleTime)
}

func (dm *defaultDatabaseManager) addHooks(db *bun.DB) {
	if dm.config.EnableQueryLog {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true), bundebug.FromEnv("BUNDEBUG")))
	}
	if dm.config.SlowQueryTime > 0 {
		db.AddQueryHook(&SlowQueryHook{Threshold: dm.config.SlowQueryTime, Logger: dm.logger})
	}
	db.AddQueryHook(&FailedQueryHook{Logger: dm.logger})
}

func (dm *defaultDatabaseManager) Disconnect() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.db == nil {
		return nil
	}
	err := dm.db.Close()
	dm.db, dm.sqlDB = nil, nil
	if err != nil {
		dm.logger.Error("Failed to close database connection", "error", err)
		return err
	}
	dm.logger.Info("Database connection closed")
	return nil
}

func (dm *defaultDatabaseManager) GetDB() *bun.DB {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return dm.db
}

// HealthCheck pings the database and reports pool usage. Dropped connections
// are replaced by database/sql on the next query, so the check only reports.
func (dm *defaultDatabaseManager) HealthCheck(ctx context.Context) *HealthStatus {
	dm.mu.RLock()
	db, sqlDB := dm.db, dm.sqlDB
	dm.mu.RUnlock()

	start := time.Now()
	status := &HealthStatus{LastCheckTime: start}
	if db == nil {
		status.LastError = "Database not initialized"
		return status
	}

	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	err := db.PingContext(ctx)
	status.ResponseTime = time.Since(start)
	if err != nil {
		status.LastError = err.Error()
	} else {
		status.Healthy = true
		status.Connected = true
	}

	stats := sqlDB.Stats()
	status.ActiveConns = stats.InUse
	status.IdleConns = stats.Idle
	status.MaxOpenConns = stats.MaxOpenConnections
	return status
}

func (dm *defaultDatabaseManager) GetStats() *DBStats {
	dm.mu.RLock()
	sqlDB := dm.sqlDB
	dm.mu.RUnlock()
	if sqlDB == nil {
		return &DBStats{}
	}

	stats := sqlDB.Stats()
	return &DBStats{
		MaxOpenConns:      stats.MaxOpenConnections,
		OpenConns:         stats.OpenConnections,
		InUse:             stats.InUse,
		Idle:              stats.Idle,
		WaitCount:         stats.WaitCount,
		WaitDuration:      stats.WaitDuration,
		MaxIdleClosed:     stats.MaxIdleClosed,
		MaxIdleTimeClosed: stats.MaxIdleTimeClosed,
		MaxLifetimeClosed: stats.MaxLifetimeClosed,
	}
}

// RunMigrations creates the registered tables and then applies extra in
// version order. Already applied versions are skipped.
func (dm *defaultDatabaseManager) RunMigrations(ctx context.Context, extra ...MigrationItem) error {
	db := dm.GetDB()
	if db == nil {
		return fmt.Errorf("database not initialized")
	}

	migrationManager := NewMigrationManager(db, dm.logger)
	if path := dm.migrateConfig.ForeignKeyFile; path != "" {
		if err := migrationManager.LoadForeignKeyFile(path); err != nil {
			return err
		}
	}
	migrationManager.AddMigrations(extra...)
	return migrationManager.RunMigrations(ctx)
}

func (dm *defaultDatabaseManager) RetryPolicy() RetryPolicy {
	return NewRetryPolicy(dm.config, dm.logger)
}

func (dm *defaultDatabaseManager) SetLogger(logger Logger) {
	if logger == nil {
		logger = NopLogger{}
	}
	dm.mu.Lock()
	defer dm.mu.Unlock()
	dm.logger = logger
}
