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
	"fmt"
	"net/http"

	"github.com/tomoncle/hotellisting/models"
	"github.com/tomoncle/hotellisting/repository"
)

func (h *Handlers) getCountries(w http.ResponseWriter, r *http.Request) {
	list[models.Country](h, w, r, "GetCountries", toCountryDTO)
}

// getCountry answers 200 with null for an absent id.
func (h *Handlers) getCountry(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		h.invalid(w, r, "GetCountry", "id must be a positive integer")
		return
	}
	repo := repository.RepositoryFor[models.Country](h.newUoW())
	country, err := repo.Get(r.Context(), repository.ByID(id), models.RelHotels)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		h.fail(w, r, "GetCountry", err)
		return
	}
	writeJSON(w, http.StatusOK, toCountryDTO(country))
}

func (h *Handlers) createCountry(w http.ResponseWriter, r *http.Request) {
	var dto CreateCountryDTO
	if p := decodeAndValidate(w, r, h.validate, &dto); p != nil {
		logger.Warn("Invalid POST attempt in CreateCountry")
		writeProblemWith(w, *p)
		return
	}
	u := h.newUoW()
	country := &models.Country{}
	dto.applyTo(country)
	repository.RepositoryFor[models.Country](u).Insert(country)
	if err := u.Save(r.Context()); err != nil {
		if isDataConflict(err) {
			h.invalid(w, r, "CreateCountry", err.Error())
			return
		}
		h.fail(w, r, "CreateCountry", err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/countries/%d", country.ID))
	writeJSON(w, http.StatusCreated, toCountryDTO(country))
}

func (h *Handlers) updateCountry(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		h.invalid(w, r, "UpdateCountry", "id must be a positive integer")
		return
	}
	var dto CreateCountryDTO
	if p := decodeAndValidate(w, r, h.validate, &dto); p != nil {
		writeProblemWith(w, *p)
		return
	}
	u := h.newUoW()
	repo := repository.RepositoryFor[models.Country](u)
	country, err := repo.Get(r.Context(), repository.ByID(id))
	if errors.Is(err, repository.ErrNotFound) {
		h.invalid(w, r, "UpdateCountry", fmt.Sprintf("country %d does not exist", id))
		return
	}
	if err != nil {
		h.fail(w, r, "UpdateCountry", err)
		return
	}
	dto.applyTo(country)
	if err := repo.Update(country); err != nil {
		h.fail(w, r, "UpdateCountry", err)
		return
	}
	if err := u.Save(r.Context()); err != nil {
		if isDataConflict(err) {
			h.invalid(w, r, "UpdateCountry", err.Error())
			return
		}
		h.fail(w, r, "UpdateCountry", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// deleteCountry removes the country and, through the foreign key, its
// hotels. The existence check and the delete are separate steps.
func (h *Handlers) deleteCountry(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		h.invalid(w, r, "DeleteCountry", "id must be a positive integer")
		return
	}
	u := h.newUoW()
	repo := repository.RepositoryFor[models.Country](u)
	if _, err := repo.Get(r.Context(), repository.ByID(id)); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			h.invalid(w, r, "DeleteCountry", fmt.Sprintf("country %d does not exist", id))
			return
		}
		h.fail(w, r, "DeleteCountry", err)
		return
	}
	repo.Delete(id)
	if err := u.Save(r.Context()); err != nil {
		h.fail(w, r, "DeleteCountry", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
