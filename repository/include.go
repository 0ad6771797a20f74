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

package repository

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/schema"
)

type trackedID struct {
	typ reflect.Type
	id  int64
}

// validateIncludes checks every include path against the relations declared
// on table. Names are matched exactly, the way bun resolves them.
func validateIncludes(table *schema.Table, includes []string) error {
	for _, path := range includes {
		t := table
		for _, name := range strings.Split(path, ".") {
			rel, ok := t.Relations[name]
			if !ok {
				return fmt.Errorf("%w: %q on %s", ErrInvalidInclude, path, table.Name)
			}
			t = rel.JoinTable
		}
	}
	return nil
}

// trackIncluded records the identities of eagerly loaded related entities so
// they can be updated through their own repositories.
func (u *UnitOfWork) trackIncluded(v reflect.Value, table *schema.Table, includes []string) {
	for _, path := range includes {
		u.trackPath(v, table, strings.Split(path, "."))
	}
}

func (u *UnitOfWork) trackPath(v reflect.Value, table *schema.Table, path []string) {
	if len(path) == 0 {
		return
	}
	rel, ok := table.Relations[path[0]]
	if !ok {
		return
	}
	visit := func(ev reflect.Value) {
		if ev.Kind() == reflect.Struct && ev.CanAddr() {
			ev = ev.Addr()
		}
		if ev.Kind() != reflect.Ptr || ev.IsNil() {
			return
		}
		if e, ok := ev.Interface().(Entity); ok {
			u.track(ev.Elem().Type(), e.PrimaryKey())
		}
		u.trackPath(ev.Elem(), rel.JoinTable, path[1:])
	}

	fv := v.FieldByIndex(rel.Field.Index)
	switch fv.Kind() {
	case reflect.Slice:
		for i := 0; i < fv.Len(); i++ {
			visit(fv.Index(i))
		}
	default:
		visit(fv)
	}
}

// cascadedIDs lists the rows that depend on the row id of table through
// has-many relations, following them down the relation graph.
func cascadedIDs(ctx context.Context, tx bun.Tx, table *schema.Table, id int64) ([]trackedID, error) {
	var out []trackedID
	for _, rel := range table.Relations {
		if rel.Type != schema.HasManyRelation || len(rel.JoinPKs) != 1 || len(rel.JoinTable.PKs) != 1 {
			continue
		}
		var ids []int64
		err := tx.NewSelect().
			Table(rel.JoinTable.Name).
			Column(rel.JoinTable.PKs[0].Name).
			Where("? = ?", bun.Ident(rel.JoinPKs[0].Name), id).
			Scan(ctx, &ids)
		if err != nil {
			return nil, err
		}
		for _, childID := range ids {
			out = append(out, trackedID{typ: rel.JoinTable.Type, id: childID})
			nested, err := cascadedIDs(ctx, tx, rel.JoinTable, childID)
			if err != nil {
				return nil, err
			}
			out = append(out, nested...)
		}
	}
	return out, nil
}
