//go:build integration

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

package repository_test

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/tomoncle/hotellisting/database"
	"github.com/tomoncle/hotellisting/models"
	"github.com/tomoncle/hotellisting/repository"
	"github.com/uptrace/bun"
)

func newPostgresDB(t *testing.T) *bun.DB {
	t.Helper()
	pool, err := dockertest.NewPool("")
	if err != nil {
		t.Fatalf("dockertest: %v", err)
	}
	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "postgres",
		Tag:        "16-alpine",
		Env: []string{
			"POSTGRES_USER=hotel",
			"POSTGRES_PASSWORD=hotel",
			"POSTGRES_DB=hotellisting",
		},
	}, func(hc *docker.HostConfig) {
		hc.AutoRemove = true
		hc.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		t.Fatalf("run postgres: %v", err)
	}
	t.Cleanup(func() { _ = pool.Purge(resource) })

	port, err := strconv.Atoi(resource.GetPort("5432/tcp"))
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	cfg := database.DefaultConnectionConfig()
	cfg.Type = "postgres"
	cfg.Host = "127.0.0.1"
	cfg.Port = port
	cfg.Username = "hotel"
	cfg.Password = "hotel"
	cfg.DBName = "hotellisting"
	cfg.SSLMode = "disable"

	dm := database.NewDatabaseManager(cfg)
	dm.SetLogger(database.NopLogger{})
	ctx := context.Background()
	if err := pool.Retry(func() error { return dm.Connect(ctx) }); err != nil {
		t.Fatalf("connect postgres: %v", err)
	}
	t.Cleanup(func() { _ = dm.Disconnect() })
	if err := dm.RunMigrations(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return dm.GetDB()
}

func TestPostgresCommitAndCascade(t *testing.T) {
	ctx := context.Background()
	db := newPostgresDB(t)

	u := newUoW(db)
	jamaica := countries(u).Insert(&models.Country{Name: "Jamaica", ShortCode: "JAM"})
	if err := u.Save(ctx); err != nil {
		t.Fatalf("save country: %v", err)
	}
	hotels(u).Insert(&models.Hotel{Name: "Sandals Resort and Spa", Address: "Negril", Rating: 4.5, CountryID: jamaica.ID})
	hotels(u).Insert(&models.Hotel{Name: "Comfort Suites", Address: "George Town", Rating: 4.3, CountryID: jamaica.ID})
	if err := u.Save(ctx); err != nil {
		t.Fatalf("save hotels: %v", err)
	}

	got, err := countries(newUoW(db)).Get(ctx, repository.ByID(jamaica.ID), "Hotels")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Hotels) != 2 {
		t.Fatalf("hotels = %d, want 2", len(got.Hotels))
	}

	u = newUoW(db)
	countries(u).Delete(jamaica.ID)
	if err := u.Save(ctx); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n := count[models.Hotel](t, db); n != 0 {
		t.Fatalf("hotels after cascade = %d, want 0", n)
	}
}

func TestPostgresForeignKeyViolationRollsBack(t *testing.T) {
	ctx := context.Background()
	db := newPostgresDB(t)

	u := newUoW(db)
	countries(u).Insert(&models.Country{Name: "Cuba", ShortCode: "CUB"})
	hotels(u).Insert(&models.Hotel{Name: "Orphan", Address: "Nowhere", CountryID: 999})
	err := u.Save(ctx)

	var cerr *repository.CommitError
	if !errors.As(err, &cerr) {
		t.Fatalf("err = %v, want *CommitError", err)
	}
	if cerr.Kind != database.ForeignKeyViolationErr {
		t.Fatalf("kind = %s, want foreign_key_violation", cerr.Kind)
	}
	if n := count[models.Country](t, db); n != 0 {
		t.Fatalf("countries after rollback = %d, want 0", n)
	}
}
