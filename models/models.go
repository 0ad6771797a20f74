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

// Package models declares the catalog tables: countries, the hotels they
// own, and the user accounts that authenticate against the API.
package models

import (
	"time"

	"github.com/tomoncle/hotellisting/database"
	"github.com/tomoncle/hotellisting/types"
	"github.com/uptrace/bun"
)

const (
	RoleAdministrator = "Administrator"
	RoleUser          = "User"
)

// Relation names accepted as includes.
const (
	RelHotels  = "Hotels"
	RelCountry = "Country"
)

func init() {
	database.RegisteredModel(database.NewModelAdapter((*Country)(nil), 10))
	database.RegisteredModel(database.NewModelAdapter((*Hotel)(nil), 20, database.ForeignKeyConstraint{
		Table:           "hotels",
		Column:          "country_id",
		ReferenceTable:  "countries",
		ReferenceColumn: "id",
		OnDelete:        "CASCADE",
	}))
	database.RegisteredModel(database.NewModelAdapter((*User)(nil), 30))
}

// Country owns zero or more hotels. Deleting a country deletes its hotels.
type Country struct {
	bun.BaseModel `bun:"table:countries,alias:c"`

	ID        int64    `bun:"id,pk,autoincrement" json:"id"`
	Name      string   `bun:"name,notnull" json:"name"`
	ShortCode string   `bun:"short_code,notnull" json:"short_code"`
	Hotels    []*Hotel `bun:"rel:has-many,join:id=country_id" json:"hotels,omitempty"`
}

func (c *Country) PrimaryKey() int64 { return c.ID }

// Hotel belongs to exactly one country. Country is only populated when the
// relation is explicitly included.
type Hotel struct {
	bun.BaseModel `bun:"table:hotels,alias:h"`

	ID        int64    `bun:"id,pk,autoincrement" json:"id"`
	Name      string   `bun:"name,notnull" json:"name"`
	Address   string   `bun:"address" json:"address"`
	Rating    float64  `bun:"rating,notnull,default:0" json:"rating"`
	CountryID int64    `bun:"country_id,notnull" json:"country_id"`
	Country   *Country `bun:"rel:belongs-to,join:country_id=id" json:"country,omitempty"`
}

func (h *Hotel) PrimaryKey() int64 { return h.ID }

// User is an API account. PasswordHash is a bcrypt hash and never leaves the
// process.
type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID           int64            `bun:"id,pk,autoincrement" json:"id"`
	Email        string           `bun:"email,notnull,unique" json:"email"`
	FirstName    string           `bun:"first_name" json:"first_name"`
	LastName     string           `bun:"last_name" json:"last_name"`
	PhoneNumber  string           `bun:"phone_number" json:"phone_number,omitempty"`
	PasswordHash string           `bun:"password_hash,notnull" json:"-"`
	Roles        types.StringList `bun:"roles,type:text,notnull" json:"roles"`
	CreatedAt    time.Time        `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
}

func (u *User) PrimaryKey() int64 { return u.ID }

// HasRole reports whether the user holds role, ignoring case.
func (u *User) HasRole(role string) bool { return u.Roles.Contains(role) }
