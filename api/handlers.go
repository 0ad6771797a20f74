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

package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/tomoncle/hotellisting/database"
	"github.com/tomoncle/hotellisting/repository"
	"github.com/tomoncle/hotellisting/types"
)

// fail logs err and answers with the generic 500 problem.
func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	logger.WithError(err).
		WithField("request_id", chimw.GetReqID(r.Context())).
		Errorf("Something went wrong in %s", op)
	writeProblem(w, http.StatusInternalServerError, "Internal Server Error", msgInternal)
}

func (h *Handlers) invalid(w http.ResponseWriter, r *http.Request, op, detail string) {
	logger.WithField("request_id", chimw.GetReqID(r.Context())).Warnf("Invalid attempt in %s: %s", op, detail)
	writeProblem(w, http.StatusBadRequest, msgInvalid, detail)
}

func parseID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		return 0, false
	}
	return id, true
}

// isDataConflict reports whether a failed save was caused by the submitted
// data rather than the store.
func isDataConflict(err error) bool {
	var cerr *repository.CommitError
	if !errors.As(err, &cerr) {
		return false
	}
	switch cerr.Kind {
	case database.ForeignKeyViolationErr, database.DuplicateKeyErr,
		database.NotNullViolationErr, database.CheckConstraintViolationErr, database.DataTruncatedErr:
		return true
	}
	return false
}

func mapAll[T, D any](items []*T, conv func(*T) *D) []*D {
	out := make([]*D, 0, len(items))
	for _, it := range items {
		out = append(out, conv(it))
	}
	return out
}

// list answers with every record of T, or one page of them when the page or
// page_size query parameter is present.
func list[T any, P repository.EntityPtr[T], D any](h *Handlers, w http.ResponseWriter, r *http.Request, op string, conv func(*T) *D) {
	repo := repository.RepositoryFor[T, P](h.newUoW())
	q := r.URL.Query()
	if q.Has("page") || q.Has("page_size") {
		page, _ := strconv.Atoi(q.Get("page"))
		size, _ := strconv.Atoi(q.Get("page_size"))
		p, err := repo.Page(r.Context(), types.NewDefaultPageRequest(page, size))
		if err != nil {
			h.fail(w, r, op, err)
			return
		}
		w.Header().Set("X-Total-Count", strconv.Itoa(p.Total))
		writeJSON(w, http.StatusOK, mapAll(p.Items, conv))
		return
	}
	items, err := repo.GetAll(r.Context())
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	writeJSON(w, http.StatusOK, mapAll(items, conv))
}
