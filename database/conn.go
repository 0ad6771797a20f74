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
	"sync"

	"github.com/uptrace/bun"
)

var (
	globalMu      sync.RWMutex
	globalFactory *BaseDatabaseFactory
)

// InitDB connects the process-wide database described by cfg, runs the
// base migrations plus extra when enabled, and returns the Bun handle.
func InitDB(ctx context.Context, cfg *Config, extra ...MigrationItem) (*bun.DB, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database configuration cannot be empty")
	}
	factory := NewDatabaseFactory()
	if _, err := factory.CreateFromConfig(cfg); err != nil {
		return nil, fmt.Errorf("failed to create database manager: %w", err)
	}
	if err := factory.InitializeDatabase(ctx, cfg.DataMigrateConfig.EnableMigrateOnStartup, extra...); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	globalMu.Lock()
	globalFactory = factory
	globalMu.Unlock()
	return factory.GetDB(), nil
}

// GetDatabaseFactory returns the process-wide database factory, or nil.
func GetDatabaseFactory() *BaseDatabaseFactory {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalFactory
}

// GetDB returns the process-wide Bun database instance, or nil.
func GetDB() *bun.DB {
	if f := GetDatabaseFactory(); f != nil {
		return f.GetDB()
	}
	return nil
}

// GetDatabaseManager returns the process-wide database manager, or nil.
func GetDatabaseManager() AbstractDatabaseManager {
	if f := GetDatabaseFactory(); f != nil {
		return f.GetManager()
	}
	return nil
}

// CloseDB closes the process-wide database connection.
func CloseDB() error {
	globalMu.Lock()
	f := globalFactory
	globalFactory = nil
	globalMu.Unlock()
	if f != nil {
		return f.Close()
	}
	return nil
}

// GetHealthStatus returns the current database health status.
func GetHealthStatus(ctx context.Context) *HealthStatus {
	if f := GetDatabaseFactory(); f != nil {
		return f.GetHealthStatus(ctx)
	}
	return &HealthStatus{LastError: "Database not initialized"}
}

// GetDatabaseStats returns process-wide database statistics.
func GetDatabaseStats() *DBStats {
	if f := GetDatabaseFactory(); f != nil {
		return f.GetStats()
	}
	return &DBStats{}
}
