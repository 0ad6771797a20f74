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
	"errors"
	"fmt"

	"github.com/tomoncle/hotellisting/database"
	"github.com/tomoncle/hotellisting/types"
)

var (
	// ErrNotFound is returned by Get when no record matches the filter.
	ErrNotFound = errors.New("repository: record not found")
	// ErrInvalidInclude is returned when an include names no relation of the entity.
	ErrInvalidInclude = errors.New("repository: invalid include")
	// ErrNotTracked is returned by Update for an entity this unit of work never loaded or inserted.
	ErrNotTracked = errors.New("repository: entity not tracked")
	// ErrStoreUnavailable marks reads and commits that failed on connectivity after retries.
	ErrStoreUnavailable = errors.New("repository: store unavailable")
	// ErrCommitFailed marks every error returned by UnitOfWork.Save.
	ErrCommitFailed = errors.New("repository: commit failed")
)

// Entity is implemented by every persisted model through its pointer type.
type Entity interface {
	PrimaryKey() int64
}

// EntityPtr constrains P to be *T implementing Entity.
type EntityPtr[T any] interface {
	*T
	Entity
}

// Repository stages writes and serves reads for one entity type within a
// unit of work. Insert, Update and Delete only record intent; nothing is
// written until UnitOfWork.Save.
type Repository[T any] interface {
	// GetAll returns every record of T.
	GetAll(ctx context.Context) ([]*T, error)

	// Get returns the first record matching filter with the named relations
	// eagerly loaded. Dotted names load nested relations.
	Get(ctx context.Context, filter *types.QueryFilter, includes ...string) (*T, error)

	// Page returns one filtered, ordered page of records.
	Page(ctx context.Context, page *types.PageRequest) (*types.Pagination[T], error)

	// Insert stages entity for insertion and returns it. Its identity is
	// populated only once the enclosing Save succeeds.
	Insert(entity *T) *T

	// Update stages a full-record replace of entity.
	Update(entity *T) error

	// Delete stages removal of the record with id.
	Delete(id int64)
}

// ByID matches the primary key of the queried table.
func ByID(id int64) *types.QueryFilter {
	return types.NewQueryFilter("?TableAlias.id = ?", id)
}

// ByColumn matches a column of the queried table by equality.
func ByColumn(column string, value interface{}) *types.QueryFilter {
	return types.NewQueryFilter("?TableAlias."+column+" = ?", value)
}

// CommitError describes a failed Save. It matches ErrCommitFailed with
// errors.Is and unwraps to the store error.
type CommitError struct {
	// Change names the staged change that failed, empty when the failure
	// happened outside of a single change (begin or commit).
	Change string
	Kind   database.SQLError
	Cause  error
}

func (e *CommitError) Error() string {
	if e.Change == "" {
		return fmt.Sprintf("%v (%s): %v", ErrCommitFailed, e.Kind, e.Cause)
	}
	return fmt.Sprintf("%v at %s (%s): %v", ErrCommitFailed, e.Change, e.Kind, e.Cause)
}

func (e *CommitError) Unwrap() error { return e.Cause }

func (e *CommitError) Is(target error) bool {
	if target == ErrCommitFailed {
		return true
	}
	return target == ErrStoreUnavailable && e.Kind == database.ConnectionErr
}
