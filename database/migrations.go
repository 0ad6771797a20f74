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
	"reflect"
	"sort"
	"time"

	"github.com/uptrace/bun"
)

// MigrationManager creates registered tables and applies versioned
// migrations exactly once each.
type MigrationManager struct {
	db        *bun.DB
	logger    Logger
	fkManager *ForeignKeyManager
	items     []MigrationItem
}

// Migration represents an applied migration record stored in the database.
type Migration struct {
	bun.BaseModel `bun:"table:schema_migrations"`

	Version     string    `bun:"version,pk"`
	Name        string    `bun:"name"`
	AppliedAt   time.Time `bun:"applied_at"`
	Description string    `bun:"description"`
}

// MigrationFunc is a migration step executed within a transaction.
type MigrationFunc func(ctx context.Context, db bun.IDB) error

// MigrationItem describes a single migration version.
type MigrationItem struct {
	Version     string
	Name        string
	Description string
	Up          MigrationFunc
}

// NewMigrationManager constructs a MigrationManager whose first migration
// creates every registered model table with its foreign keys.
func NewMigrationManager(db *bun.DB, logger Logger) *MigrationManager {
	mm := &MigrationManager{
		db:        db,
		logger:    logger,
		fkManager: NewForeignKeyManager(logger),
	}
	mm.items = []MigrationItem{{
		Version:     "001",
		Name:        "create_base_tables",
		Description: "Create registered tables with foreign key constraints",
		Up:          mm.createBaseTables,
	}}
	return mm
}

// AddMigrations appends migrations to run after the base tables exist.
func (mm *MigrationManager) AddMigrations(items ...MigrationItem) {
	mm.items = append(mm.items, items...)
}

// LoadForeignKeyFile merges foreign key constraints from a YAML file.
func (mm *MigrationManager) LoadForeignKeyFile(path string) error {
	return mm.fkManager.LoadFile(path)
}

// RunMigrations creates the migration tracking table if needed and executes
// all pending migrations in ascending version order.
func (mm *MigrationManager) RunMigrations(ctx context.Context) error {
	if mm.db == nil {
		return fmt.Errorf("database not initialized")
	}
	if _, ok := os.LookupEnv("BUNDEBUG_MIGRATION"); !ok {
		EnableBunSqlSilent(true)
		defer EnableBunSqlSilent(false)
	}
	if err := mm.fkManager.Validate(); err != nil {
		return fmt.Errorf("foreign key constraint validation failed: %w", err)
	}

	if _, err := mm.db.NewCreateTable().
		Model((*Migration)(nil)).
		IfNotExists().
		Exec(ctx); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	migrations := make([]MigrationItem, len(mm.items))
	copy(migrations, mm.items)
	sort.SliceStable(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	for _, migration := range migrations {
		if err := mm.runMigration(ctx, migration); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", migration.Version, err)
		}
	}

	if mm.logger != nil {
		mm.logger.Info("Database migrations completed!", "count", len(migrations))
	}
	return nil
}

func (mm *MigrationManager) runMigration(ctx context.Context, migration MigrationItem) error {
	exists, err := mm.db.NewSelect().
		Model((*Migration)(nil)).
		Where("version = ?", migration.Version).
		Exists(ctx)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	err = mm.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := migration.Up(ctx, tx); err != nil {
			return err
		}
		_, err := tx.NewInsert().
			Model(&Migration{
				Version:     migration.Version,
				Name:        migration.Name,
				AppliedAt:   time.Now(),
				Description: migration.Description,
			}).
			Exec(ctx)
		return err
	})
	if err != nil {
		return err
	}
	if mm.logger != nil {
		mm.logger.Info("Migration executed successfully", "version", migration.Version, "name", migration.Name)
	}
	return nil
}

func (mm *MigrationManager) createBaseTables(ctx context.Context, db bun.IDB) error {
	for _, model := range GetRegisteredModels() {
		instance := model.Instance()
		q := db.NewCreateTable().
			Model(instance).
			IfNotExists()
		typ := reflect.TypeOf(instance)
		if typ.Kind() == reflect.Ptr {
			typ = typ.Elem()
		}
		table := db.Dialect().Tables().Get(typ)
		for _, fk := range mm.fkManager.ConstraintsFor(table.Name) {
			q = fk.Apply(q)
		}
		if _, err := q.Exec(ctx); err != nil {
			return fmt.Errorf("failed to create table %s: %w", getModelName(instance), err)
		}
	}
	return nil
}

// GetAppliedMigrations returns migration records ordered by version.
func (mm *MigrationManager) GetAppliedMigrations(ctx context.Context) ([]Migration, error) {
	var migrations []Migration
	err := mm.db.NewSelect().
		Model(&migrations).
		Order("version ASC").
		Scan(ctx)
	return migrations, err
}

func getModelName(model interface{}) string {
	t := reflect.TypeOf(model)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}
