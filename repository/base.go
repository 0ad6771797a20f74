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
	"database/sql"
	"errors"
	"fmt"
	"reflect"

	"github.com/tomoncle/hotellisting/database"
	"github.com/tomoncle/hotellisting/types"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/schema"
)

type baseRepositoryImpl[T any, P EntityPtr[T]] struct {
	uow   *UnitOfWork
	typ   reflect.Type
	table *schema.Table
	pk    string
}

func newRepository[T any, P EntityPtr[T]](u *UnitOfWork) *baseRepositoryImpl[T, P] {
	typ := reflect.TypeFor[T]()
	table := u.db.Table(typ)
	pk := "id"
	if len(table.PKs) == 1 {
		pk = table.PKs[0].Name
	}
	return &baseRepositoryImpl[T, P]{uow: u, typ: typ, table: table, pk: pk}
}

func (r *baseRepositoryImpl[T, P]) GetAll(ctx context.Context) ([]*T, error) {
	var entities []*T
	err := r.uow.retry.Do(ctx, func(ctx context.Context) error {
		entities = nil
		return r.uow.db.NewSelect().
			Model(&entities).
			OrderExpr("?TableAlias.? ASC", bun.Ident(r.pk)).
			Scan(ctx)
	})
	if err != nil {
		return nil, r.readError("get all", err)
	}
	for _, e := range entities {
		r.uow.track(r.typ, P(e).PrimaryKey())
	}
	return entities, nil
}

func (r *baseRepositoryImpl[T, P]) Get(ctx context.Context, filter *types.QueryFilter, includes ...string) (*T, error) {
	if err := validateIncludes(r.table, includes); err != nil {
		return nil, err
	}
	var entity *T
	err := r.uow.retry.Do(ctx, func(ctx context.Context) error {
		entity = new(T)
		query := r.uow.db.NewSelect().Model(entity)
		for _, name := range includes {
			query = query.Relation(name)
		}
		if filter != nil {
			query = query.Where(filter.Schema, filter.Args...)
		}
		return query.
			OrderExpr("?TableAlias.? ASC", bun.Ident(r.pk)).
			Limit(1).
			Scan(ctx)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, r.table.Name)
	}
	if err != nil {
		return nil, r.readError("get", err)
	}
	r.uow.track(r.typ, P(entity).PrimaryKey())
	r.uow.trackIncluded(reflect.ValueOf(entity).Elem(), r.table, includes)
	return entity, nil
}

func (r *baseRepositoryImpl[T, P]) Page(ctx context.Context, pageRequest *types.PageRequest) (*types.Pagination[T], error) {
	if pageRequest == nil {
		pageRequest = types.NewDefaultPageRequest(1, types.DefaultPageSize)
	}
	pagination := types.NewDefaultPagination[T](pageRequest.GetPage(), pageRequest.GetPageSize())
	var entities []*T
	err := r.uow.retry.Do(ctx, func(ctx context.Context) error {
		entities = nil
		query := r.uow.db.NewSelect().Model(&entities)
		if f := pageRequest.GetFilter(); f != nil {
			query = query.Where(f.Schema, f.Args...)
		}
		total, err := query.Count(ctx)
		if err != nil || total == 0 {
			pagination.Total = total
			return err
		}
		if orders := pageRequest.GetOrders(); len(orders) > 0 {
			query = query.Order(orders...)
		} else {
			query = query.OrderExpr("?TableAlias.? ASC", bun.Ident(r.pk))
		}
		pagination.Total = total
		return query.
			Offset(pageRequest.GetOffset()).
			Limit(pageRequest.GetPageSize()).
			Scan(ctx)
	})
	if err != nil {
		return nil, r.readError("page", err)
	}
	for _, e := range entities {
		r.uow.track(r.typ, P(e).PrimaryKey())
	}
	if entities != nil {
		pagination.Items = entities
	}
	return pagination, nil
}

func (r *baseRepositoryImpl[T, P]) Insert(entity *T) *T {
	if entity == nil {
		return nil
	}
	if r.uow.isPendingInsert(entity) {
		return entity
	}
	var row T
	c := &change{
		op:     opInsert,
		entity: r.table.Name,
		apply: func(ctx context.Context, tx bun.Tx) error {
			row = *entity
			_, err := tx.NewInsert().Model(&row).Exec(ctx)
			return err
		},
	}
	c.committed = func() {
		*entity = row
		r.uow.track(r.typ, P(entity).PrimaryKey())
	}
	r.uow.stage(c, entity)
	return entity
}

func (r *baseRepositoryImpl[T, P]) Update(entity *T) error {
	if entity == nil {
		return fmt.Errorf("%w: nil %s", ErrNotTracked, r.table.Name)
	}
	if r.uow.isPendingInsert(entity) {
		return nil
	}
	id := P(entity).PrimaryKey()
	if !r.uow.isTracked(r.typ, id) {
		return fmt.Errorf("%w: %s id=%d", ErrNotTracked, r.table.Name, id)
	}
	r.uow.stage(&change{
		op:     opUpdate,
		entity: r.table.Name,
		id:     id,
		apply: func(ctx context.Context, tx bun.Tx) error {
			row := *entity
			_, err := tx.NewUpdate().Model(&row).WherePK().Exec(ctx)
			return err
		},
	}, nil)
	return nil
}

// Delete stages removal of the row with id. Rows reached through has-many
// relations are removed by the store's cascade; their identities are dropped
// from the unit of work once the delete commits.
func (r *baseRepositoryImpl[T, P]) Delete(id int64) {
	var cascaded []trackedID
	r.uow.stage(&change{
		op:     opDelete,
		entity: r.table.Name,
		id:     id,
		apply: func(ctx context.Context, tx bun.Tx) error {
			var err error
			if cascaded, err = cascadedIDs(ctx, tx, r.table, id); err != nil {
				return err
			}
			_, err = tx.NewDelete().
				Model((*T)(nil)).
				Where("? = ?", bun.Ident(r.pk), id).
				Exec(ctx)
			return err
		},
		committed: func() {
			r.uow.untrack(r.typ, id)
			for _, c := range cascaded {
				r.uow.untrack(c.typ, c.id)
			}
		},
	}, nil)
}

func (r *baseRepositoryImpl[T, P]) readError(op string, err error) error {
	if database.IsTransient(err) {
		return fmt.Errorf("%s %s: %w: %w", op, r.table.Name, ErrStoreUnavailable, err)
	}
	return fmt.Errorf("%s %s: %w", op, r.table.Name, err)
}
