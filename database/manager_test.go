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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/uptrace/bun"
)

type testOwner struct {
	bun.BaseModel `bun:"table:test_owners,alias:o"`

	ID   int64  `bun:"id,pk,autoincrement"`
	Name string `bun:"name,notnull"`
}

type testPet struct {
	bun.BaseModel `bun:"table:test_pets,alias:p"`

	ID      int64  `bun:"id,pk,autoincrement"`
	Name    string `bun:"name,notnull"`
	OwnerID int64  `bun:"owner_id,notnull"`
}

func init() {
	RegisteredModel(NewModelAdapter((*testPet)(nil), 20, ForeignKeyConstraint{
		Table:           "test_pets",
		Column:          "owner_id",
		ReferenceTable:  "test_owners",
		ReferenceColumn: "id",
		OnDelete:        "CASCADE",
	}))
	RegisteredModel(NewModelAdapter((*testOwner)(nil), 10))
}

func newMemoryManager(t *testing.T) AbstractDatabaseManager {
	t.Helper()
	cfg := DefaultConnectionConfig()
	cfg.Type = "sqlite"
	cfg.DBName = MemoryDBName
	dm := NewDatabaseManager(cfg)
	dm.SetLogger(NopLogger{})
	if err := dm.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = dm.Disconnect() })
	return dm
}

func TestRegistryOrdersByPriority(t *testing.T) {
	models := GetRegisteredModels()
	for i := 1; i < len(models); i++ {
		if models[i-1].Priority() > models[i].Priority() {
			t.Fatalf("models not sorted by priority at %d", i)
		}
	}
}

func TestRunMigrationsCreatesTablesWithForeignKeys(t *testing.T) {
	ctx := context.Background()
	dm := newMemoryManager(t)

	seeded := 0
	seed := MigrationItem{
		Version: "002",
		Name:    "seed_owner",
		Up: func(ctx context.Context, db bun.IDB) error {
			seeded++
			_, err := db.NewInsert().Model(&testOwner{Name: "alice"}).Exec(ctx)
			return err
		},
	}
	if err := dm.RunMigrations(ctx, seed); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	// second run must skip applied versions
	if err := dm.RunMigrations(ctx, seed); err != nil {
		t.Fatalf("migrate again: %v", err)
	}
	if seeded != 1 {
		t.Fatalf("seed ran %d times, want 1", seeded)
	}

	db := dm.GetDB()
	mm := NewMigrationManager(db, NopLogger{})
	applied, err := mm.GetAppliedMigrations(ctx)
	if err != nil {
		t.Fatalf("applied: %v", err)
	}
	if len(applied) != 2 || applied[0].Version != "001" || applied[1].Version != "002" {
		t.Fatalf("unexpected applied migrations: %+v", applied)
	}

	var owner testOwner
	if err := db.NewSelect().Model(&owner).Limit(1).Scan(ctx); err != nil {
		t.Fatalf("select owner: %v", err)
	}

	_, err = db.NewInsert().Model(&testPet{Name: "ghost", OwnerID: owner.ID + 100}).Exec(ctx)
	if is, kind := IsSqlError(err); !is || kind != ForeignKeyViolationErr {
		t.Fatalf("expected foreign key violation, got %v (%v)", err, kind)
	}

	if _, err := db.NewInsert().Model(&testPet{Name: "rex", OwnerID: owner.ID}).Exec(ctx); err != nil {
		t.Fatalf("insert pet: %v", err)
	}
	if _, err := db.NewDelete().Model((*testOwner)(nil)).Where("id = ?", owner.ID).Exec(ctx); err != nil {
		t.Fatalf("delete owner: %v", err)
	}
	n, err := db.NewSelect().Model((*testPet)(nil)).Count(ctx)
	if err != nil {
		t.Fatalf("count pets: %v", err)
	}
	if n != 0 {
		t.Fatalf("pets not cascaded: %d left", n)
	}
}

func TestForeignKeyFileOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fk.yaml")
	content := "foreign_keys:\n  - table: test_pets\n    column: owner_id\n    reference_table: test_owners\n    reference_column: id\n    on_delete: restrict\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	fkm := NewForeignKeyManager(NopLogger{})
	if err := fkm.LoadFile(path); err != nil {
		t.Fatalf("load: %v", err)
	}
	got := fkm.ConstraintsFor("test_pets")
	if len(got) != 1 || got[0].OnDelete != "restrict" {
		t.Fatalf("override not applied: %+v", got)
	}

	bad := filepath.Join(dir, "bad.yaml")
	_ = os.WriteFile(bad, []byte("foreign_keys:\n  - table: x\n    column: y\n    reference_table: z\n    reference_column: id\n    on_delete: explode\n"), 0o644)
	if err := fkm.LoadFile(bad); err == nil {
		t.Fatalf("expected invalid action error")
	}
}

func TestHealthCheck(t *testing.T) {
	dm := newMemoryManager(t)
	status := dm.HealthCheck(context.Background())
	if !status.Healthy || !status.Connected {
		t.Fatalf("unexpected status: %+v", status)
	}
	if dm.GetStats().MaxOpenConns != 1 {
		t.Fatalf("sqlite pool should hold one connection, got %d", dm.GetStats().MaxOpenConns)
	}

	_ = dm.Disconnect()
	status = dm.HealthCheck(context.Background())
	if status.Healthy {
		t.Fatalf("disconnected manager reported healthy")
	}
}

func TestUnsupportedType(t *testing.T) {
	f := NewDatabaseFactory()
	cfg := DefaultConfig()
	cfg.ConnectionConfig.Type = "oracle"
	t.Setenv("DB_TYPE", "")
	if _, err := f.CreateFromConfig(cfg); err == nil {
		t.Fatalf("expected unsupported type error")
	}
}

func TestOverrideFromEnv(t *testing.T) {
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_PORT", "6543")
	t.Setenv("DB_RETRY_MAX_ATTEMPTS", "7")
	t.Setenv("DB_RETRY_MAX_DELAY_MS", "750")
	cfg := DefaultConnectionConfig()
	OverrideFromEnv(cfg)
	if cfg.Host != "db.internal" || cfg.Port != 6543 || cfg.RetryMaxAttempts != 7 {
		t.Fatalf("env not applied: %+v", cfg)
	}
	if cfg.RetryMaxDelay != 750*time.Millisecond {
		t.Fatalf("retry max delay = %s", cfg.RetryMaxDelay)
	}
	if cfg.RetryInitialDelay != 100*time.Millisecond {
		t.Fatalf("unset delay changed: %s", cfg.RetryInitialDelay)
	}
}
