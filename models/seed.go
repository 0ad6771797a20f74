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

package models

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tomoncle/hotellisting/database"
	"github.com/tomoncle/hotellisting/types"
	"github.com/uptrace/bun"
)

type seedHotel struct {
	name, address string
	rating        float64
}

var referenceCountries = []struct {
	name, code string
	hotels     []seedHotel
}{
	{"Jamaica", "JAM", []seedHotel{{"Sandals Resort and Spa", "Negril", 4.3}}},
	{"Bahamas", "BAH", []seedHotel{{"Grand Palladium", "Nassau", 4.0}}},
	{"Cayman Islands", "CAI", []seedHotel{{"Comfort Suites", "George Town", 4.5}}},
}

// SeedReferenceData returns a migration that loads the starter catalog into
// an empty countries table.
func SeedReferenceData() database.MigrationItem {
	return database.MigrationItem{
		Version:     "002",
		Name:        "seed_reference_data",
		Description: "Seed starter countries and hotels",
		Up:          seedReferenceData,
	}
}

func seedReferenceData(ctx context.Context, db bun.IDB) error {
	n, err := db.NewSelect().Model((*Country)(nil)).Count(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	for _, rc := range referenceCountries {
		country := &Country{Name: rc.name, ShortCode: rc.code}
		if _, err := db.NewInsert().Model(country).Exec(ctx); err != nil {
			return fmt.Errorf("seed country %s: %w", rc.code, err)
		}
		for _, sh := range rc.hotels {
			hotel := &Hotel{Name: sh.name, Address: sh.address, Rating: sh.rating, CountryID: country.ID}
			if _, err := db.NewInsert().Model(hotel).Exec(ctx); err != nil {
				return fmt.Errorf("seed hotel %s: %w", sh.name, err)
			}
		}
	}
	return nil
}

// BootstrapAdmin returns a migration that creates the administrator account
// when no user with email exists. passwordHash must already be a bcrypt hash.
func BootstrapAdmin(email, passwordHash string) database.MigrationItem {
	return database.MigrationItem{
		Version:     "003",
		Name:        "bootstrap_admin",
		Description: "Create the administrator account",
		Up: func(ctx context.Context, db bun.IDB) error {
			if email == "" || passwordHash == "" {
				return nil
			}
			exists, err := db.NewSelect().Model((*User)(nil)).Where("email = ?", strings.ToLower(email)).Exists(ctx)
			if err != nil || exists {
				return err
			}
			_, err = db.NewInsert().Model(&User{
				Email:        strings.ToLower(email),
				FirstName:    "System",
				LastName:     "Administrator",
				PasswordHash: passwordHash,
				Roles:        types.StringList{RoleAdministrator, RoleUser},
				CreatedAt:    time.Now().UTC(),
			}).Exec(ctx)
			return err
		},
	}
}
