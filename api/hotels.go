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

func (h *Handlers) getHotels(w http.ResponseWriter, r *http.Request) {
	list[models.Hotel](h, w, r, "GetHotels", toHotelDTO)
}

func (h *Handlers) getHotel(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		h.invalid(w, r, "GetHotel", "id must be a positive integer")
		return
	}
	repo := repository.RepositoryFor[models.Hotel](h.newUoW())
	hotel, err := repo.Get(r.Context(), repository.ByID(id), models.RelCountry)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		h.fail(w, r, "GetHotel", err)
		return
	}
	writeJSON(w, http.StatusOK, toHotelDTO(hotel))
}

// countryExists reports whether id names a stored country. It writes the
// error response itself when the lookup fails.
func (h *Handlers) countryExists(w http.ResponseWriter, r *http.Request, u *repository.UnitOfWork, op string, id int64) bool {
	_, err := repository.RepositoryFor[models.Country](u).Get(r.Context(), repository.ByID(id))
	if errors.Is(err, repository.ErrNotFound) {
		writeProblemWith(w, problem{
			Type:   "about:blank",
			Title:  msgInvalid,
			Status: http.StatusBadRequest,
			Errors: map[string]string{"country_id": "does not reference an existing country"},
		})
		return false
	}
	if err != nil {
		h.fail(w, r, op, err)
		return false
	}
	return true
}

func (h *Handlers) createHotel(w http.ResponseWriter, r *http.Request) {
	var dto CreateHotelDTO
	if p := decodeAndValidate(w, r, h.validate, &dto); p != nil {
		logger.Warn("Invalid POST attempt in CreateHotel")
		writeProblemWith(w, *p)
		return
	}
	u := h.newUoW()
	if !h.countryExists(w, r, u, "CreateHotel", dto.CountryID) {
		return
	}
	hotel := &models.Hotel{}
	dto.applyTo(hotel)
	repository.RepositoryFor[models.Hotel](u).Insert(hotel)
	if err := u.Save(r.Context()); err != nil {
		if isDataConflict(err) {
			h.invalid(w, r, "CreateHotel", err.Error())
			return
		}
		h.fail(w, r, "CreateHotel", err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/hotels/%d", hotel.ID))
	writeJSON(w, http.StatusCreated, toHotelDTO(hotel))
}

func (h *Handlers) updateHotel(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		h.invalid(w, r, "UpdateHotel", "id must be a positive integer")
		return
	}
	var dto CreateHotelDTO
	if p := decodeAndValidate(w, r, h.validate, &dto); p != nil {
		writeProblemWith(w, *p)
		return
	}
	u := h.newUoW()
	repo := repository.RepositoryFor[models.Hotel](u)
	hotel, err := repo.Get(r.Context(), repository.ByID(id))
	if errors.Is(err, repository.ErrNotFound) {
		h.invalid(w, r, "UpdateHotel", fmt.Sprintf("hotel %d does not exist", id))
		return
	}
	if err != nil {
		h.fail(w, r, "UpdateHotel", err)
		return
	}
	if dto.CountryID != hotel.CountryID && !h.countryExists(w, r, u, "UpdateHotel", dto.CountryID) {
		return
	}
	dto.applyTo(hotel)
	if err := repo.Update(hotel); err != nil {
		h.fail(w, r, "UpdateHotel", err)
		return
	}
	if err := u.Save(r.Context()); err != nil {
		if isDataConflict(err) {
			h.invalid(w, r, "UpdateHotel", err.Error())
			return
		}
		h.fail(w, r, "UpdateHotel", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) deleteHotel(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		h.invalid(w, r, "DeleteHotel", "id must be a positive integer")
		return
	}
	u := h.newUoW()
	repo := repository.RepositoryFor[models.Hotel](u)
	if _, err := repo.Get(r.Context(), repository.ByID(id)); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			h.invalid(w, r, "DeleteHotel", fmt.Sprintf("hotel %d does not exist", id))
			return
		}
		h.fail(w, r, "DeleteHotel", err)
		return
	}
	repo.Delete(id)
	if err := u.Save(r.Context()); err != nil {
		h.fail(w, r, "DeleteHotel", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
