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
	"fmt"
	"os"
	"strings"

	"github.com/uptrace/bun"
	"gopkg.in/yaml.v3"
)

var validReferentialActions = []string{"CASCADE", "RESTRICT", "SET NULL", "NO ACTION"}

// ForeignKeyConstraint describes a foreign key relationship between tables.
type ForeignKeyConstraint struct {
	Table           string `yaml:"table"`
	Column          string `yaml:"column"`
	ReferenceTable  string `yaml:"reference_table"`
	ReferenceColumn string `yaml:"reference_column"`
	OnDelete        string `yaml:"on_delete"` // CASCADE, RESTRICT, SET NULL, NO ACTION
	OnUpdate        string `yaml:"on_update"`
}

// Validate checks the constraint for missing names and unknown actions.
func (fk ForeignKeyConstraint) Validate() error {
	switch {
	case fk.Table == "":
		return fmt.Errorf("table name cannot be empty")
	case fk.Column == "":
		return fmt.Errorf("column name cannot be empty: %s", fk.Table)
	case fk.ReferenceTable == "":
		return fmt.Errorf("reference table name cannot be empty: %s.%s", fk.Table, fk.Column)
	case fk.ReferenceColumn == "":
		return fmt.Errorf("reference column name cannot be empty: %s.%s -> %s", fk.Table, fk.Column, fk.ReferenceTable)
	}
	for _, action := range []string{fk.OnDelete, fk.OnUpdate} {
		if action != "" && !isReferentialAction(action) {
			return fmt.Errorf("invalid referential action %q on %s.%s", action, fk.Table, fk.Column)
		}
	}
	return nil
}

// Apply adds the constraint as a table-level clause of a CREATE TABLE query,
// which every supported dialect accepts, including sqlite.
func (fk ForeignKeyConstraint) Apply(q *bun.CreateTableQuery) *bun.CreateTableQuery {
	clause := "(?) REFERENCES ? (?)"
	if fk.OnDelete != "" {
		clause += " ON DELETE " + strings.ToUpper(fk.OnDelete)
	}
	if fk.OnUpdate != "" {
		clause += " ON UPDATE " + strings.ToUpper(fk.OnUpdate)
	}
	return q.ForeignKey(clause, bun.Ident(fk.Column), bun.Ident(fk.ReferenceTable), bun.Ident(fk.ReferenceColumn))
}

func (fk ForeignKeyConstraint) String() string {
	return fmt.Sprintf("%s.%s -> %s.%s", fk.Table, fk.Column, fk.ReferenceTable, fk.ReferenceColumn)
}

func isReferentialAction(action string) bool {
	for _, a := range validReferentialActions {
		if strings.EqualFold(a, action) {
			return true
		}
	}
	return false
}

// ForeignKeyConfig is the YAML structure that lists extra foreign key constraints.
type ForeignKeyConfig struct {
	ForeignKeys []ForeignKeyConstraint `yaml:"foreign_keys"`
}

// ForeignKeyManager collects constraints per table.
type ForeignKeyManager struct {
	constraints []ForeignKeyConstraint
	logger      Logger
}

// NewForeignKeyManager creates a manager seeded with the constraints declared
// by registered models.
func NewForeignKeyManager(logger Logger) *ForeignKeyManager {
	var constraints []ForeignKeyConstraint
	for _, m := range GetRegisteredModels() {
		constraints = append(constraints, m.ForeignKeys()...)
	}
	return &ForeignKeyManager{constraints: constraints, logger: logger}
}

// LoadFile merges constraints from a YAML file. A constraint for an already
// known table/column pair replaces the existing one.
func (fkm *ForeignKeyManager) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read foreign key file: %w", err)
	}
	var cfg ForeignKeyConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("failed to parse foreign key file: %w", err)
	}
	for _, fk := range cfg.ForeignKeys {
		if err := fk.Validate(); err != nil {
			return err
		}
		fkm.put(fk)
	}
	if fkm.logger != nil {
		fkm.logger.Debug("Loaded foreign key constraints", "path", path, "count", len(cfg.ForeignKeys))
	}
	return nil
}

func (fkm *ForeignKeyManager) put(fk ForeignKeyConstraint) {
	for i, c := range fkm.constraints {
		if strings.EqualFold(c.Table, fk.Table) && strings.EqualFold(c.Column, fk.Column) {
			fkm.constraints[i] = fk
			return
		}
	}
	fkm.constraints = append(fkm.constraints, fk)
}

// ConstraintsFor returns the constraints defined for a table.
func (fkm *ForeignKeyManager) ConstraintsFor(table string) []ForeignKeyConstraint {
	var result []ForeignKeyConstraint
	for _, c := range fkm.constraints {
		if strings.EqualFold(c.Table, table) {
			result = append(result, c)
		}
	}
	return result
}

// Validate checks every constraint and returns the first problem found.
func (fkm *ForeignKeyManager) Validate() error {
	for _, c := range fkm.constraints {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	return nil
}
