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
	"database/sql"
	"errors"
	"reflect"
	"sync/atomic"
	"time"

	"github.com/fatih/color"
	"github.com/uptrace/bun"
)

var bunSqlSilentMode atomic.Bool

// EnableBunSqlSilent mutes the query hooks, used while migrations run.
func EnableBunSqlSilent(b bool) {
	bunSqlSilentMode.Store(b)
}

var (
	slowLabel  = color.New(color.FgYellow, color.Bold)
	errLabel   = color.New(color.BgRed, color.FgWhite)
	opPainters = map[string]*color.Color{
		"SELECT": color.New(color.FgGreen),
		"INSERT": color.New(color.FgBlue),
		"UPDATE": color.New(color.FgYellow),
		"DELETE": color.New(color.FgMagenta),
	}
)

func paintQuery(event *bun.QueryEvent) string {
	if c, ok := opPainters[event.Operation()]; ok {
		return c.Sprint(event.Query)
	}
	return color.New(color.FgRed).Sprint(event.Query)
}

// SlowQueryHook reports queries that take longer than Threshold.
type SlowQueryHook struct {
	Threshold time.Duration
	Logger    Logger
}

var _ bun.QueryHook = (*SlowQueryHook)(nil)

func (h *SlowQueryHook) BeforeQuery(ctx context.Context, _ *bun.QueryEvent) context.Context {
	return ctx
}

func (h *SlowQueryHook) AfterQuery(_ context.Context, event *bun.QueryEvent) {
	if bunSqlSilentMode.Load() || event.Err != nil || h.Logger == nil {
		return
	}
	duration := time.Since(event.StartTime)
	if duration > h.Threshold {
		h.Logger.Warn(slowLabel.Sprint("Database slow query detected"),
			"duration", duration.Round(time.Microsecond),
			"slow_threshold", h.Threshold,
			"query", paintQuery(event),
		)
	}
}

// FailedQueryHook reports queries that returned an error other than an empty
// result or a finished transaction.
type FailedQueryHook struct {
	Logger Logger
}

var _ bun.QueryHook = (*FailedQueryHook)(nil)

func (h *FailedQueryHook) BeforeQuery(ctx context.Context, _ *bun.QueryEvent) context.Context {
	return ctx
}

func (h *FailedQueryHook) AfterQuery(_ context.Context, event *bun.QueryEvent) {
	if bunSqlSilentMode.Load() || h.Logger == nil || event.Err == nil {
		return
	}
	if errors.Is(event.Err, sql.ErrNoRows) || errors.Is(event.Err, sql.ErrTxDone) {
		return
	}
	h.Logger.Debug(errLabel.Sprint(" query failed "),
		"error_type", reflect.TypeOf(event.Err).String(),
		"error", event.Err.Error(),
		"kind", Classify(event.Err).String(),
		"duration", time.Since(event.StartTime).Round(time.Microsecond),
		"query", paintQuery(event),
	)
}
