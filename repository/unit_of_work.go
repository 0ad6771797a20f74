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
	"time"

	"github.com/tomoncle/hotellisting/database"
	"github.com/tomoncle/hotellisting/metrics"
	"github.com/uptrace/bun"
)

type changeOp int

const (
	opInsert changeOp = iota
	opUpdate
	opDelete
)

func (o changeOp) String() string {
	switch o {
	case opInsert:
		return "insert"
	case opUpdate:
		return "update"
	default:
		return "delete"
	}
}

// change is one staged mutation. apply may run more than once when a
// transient failure makes Save retry the transaction; committed runs once,
// after the transaction commits.
type change struct {
	op        changeOp
	entity    string
	id        int64
	apply     func(ctx context.Context, tx bun.Tx) error
	committed func()
}

func (c *change) String() string {
	if c.op == opInsert {
		return fmt.Sprintf("%s %s", c.op, c.entity)
	}
	return fmt.Sprintf("%s %s id=%d", c.op, c.entity, c.id)
}

// Option configures a UnitOfWork.
type Option func(*UnitOfWork)

// WithRetryPolicy sets the policy used for reads and Save.
func WithRetryPolicy(p database.RetryPolicy) Option {
	return func(u *UnitOfWork) { u.retry = p }
}

func WithLogger(l database.Logger) Option {
	return func(u *UnitOfWork) {
		if l != nil {
			u.logger = l
		}
	}
}

// UnitOfWork groups the repositories of one logical operation and commits
// their staged changes atomically.
type UnitOfWork struct {
	db      *bun.DB
	retry   database.RetryPolicy
	logger  database.Logger
	repos   map[reflect.Type]any
	journal []*change
	inserts map[any]struct{}
	tracked map[reflect.Type]map[int64]struct{}
}

// NewUnitOfWork returns an empty unit of work over db. Without
// WithRetryPolicy every store call runs exactly once.
func NewUnitOfWork(db *bun.DB, opts ...Option) *UnitOfWork {
	u := &UnitOfWork{
		db:      db,
		logger:  database.GetLogger(),
		repos:   make(map[reflect.Type]any),
		inserts: make(map[any]struct{}),
		tracked: make(map[reflect.Type]map[int64]struct{}),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// NewFactory returns a constructor that builds units of work sharing db and
// opts, one per call.
func NewFactory(db *bun.DB, opts ...Option) func() *UnitOfWork {
	return func() *UnitOfWork { return NewUnitOfWork(db, opts...) }
}

// RepositoryFor returns the repository of T owned by u, creating it on first
// use. Later calls return the same instance.
func RepositoryFor[T any, P EntityPtr[T]](u *UnitOfWork) Repository[T] {
	typ := reflect.TypeFor[T]()
	if r, ok := u.repos[typ]; ok {
		return r.(Repository[T])
	}
	r := newRepository[T, P](u)
	u.repos[typ] = r
	return r
}

// Pending returns the number of staged changes.
func (u *UnitOfWork) Pending() int { return len(u.journal) }

// Discard drops every staged change. Tracked identities are kept.
func (u *UnitOfWork) Discard() {
	u.journal = nil
	clear(u.inserts)
}

// Save applies the staged changes in the order they were made inside one
// transaction. On failure nothing is written, the journal is kept and the
// returned error is a *CommitError.
func (u *UnitOfWork) Save(ctx context.Context) error {
	if len(u.journal) == 0 {
		return nil
	}
	start := time.Now()
	var failed *change
	err := u.retry.Do(ctx, func(ctx context.Context) error {
		failed = nil
		return u.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			for _, c := range u.journal {
				if err := c.apply(ctx, tx); err != nil {
					failed = c
					return err
				}
			}
			return nil
		})
	})
	elapsed := time.Since(start)
	if err != nil {
		metrics.ObserveCommit(metrics.CommitFailed, elapsed)
		cerr := &CommitError{Kind: database.Classify(err), Cause: err}
		if failed != nil {
			cerr.Change = failed.String()
		}
		u.logger.Warn("Unit of work commit failed",
			"changes", len(u.journal), "at", cerr.Change, "kind", cerr.Kind.String(), "error", err)
		return cerr
	}

	for _, c := range u.journal {
		if c.committed != nil {
			c.committed()
		}
	}
	metrics.ObserveCommit(metrics.CommitOK, elapsed)
	u.logger.Debug("Unit of work committed", "changes", len(u.journal), "elapsed", elapsed)
	u.journal = nil
	clear(u.inserts)
	return nil
}

func (u *UnitOfWork) stage(c *change, pendingInsert any) {
	if pendingInsert != nil {
		u.inserts[pendingInsert] = struct{}{}
		committed := c.committed
		c.committed = func() {
			delete(u.inserts, pendingInsert)
			committed()
		}
	}
	u.journal = append(u.journal, c)
}

func (u *UnitOfWork) isPendingInsert(entity any) bool {
	_, ok := u.inserts[entity]
	return ok
}

func (u *UnitOfWork) track(typ reflect.Type, id int64) {
	if id == 0 {
		return
	}
	ids, ok := u.tracked[typ]
	if !ok {
		ids = make(map[int64]struct{})
		u.tracked[typ] = ids
	}
	ids[id] = struct{}{}
}

func (u *UnitOfWork) untrack(typ reflect.Type, id int64) {
	delete(u.tracked[typ], id)
}

func (u *UnitOfWork) isTracked(typ reflect.Type, id int64) bool {
	_, ok := u.tracked[typ][id]
	return ok
}
