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
	"time"

	"github.com/tomoncle/hotellisting/auth"
	"github.com/tomoncle/hotellisting/models"
	"github.com/tomoncle/hotellisting/repository"
	"github.com/tomoncle/hotellisting/types"
)

// register creates an account holding the User role.
func (h *Handlers) register(w http.ResponseWriter, r *http.Request) {
	var dto RegisterDTO
	if p := decodeAndValidate(w, r, h.validate, &dto); p != nil {
		writeProblemWith(w, *p)
		return
	}
	email := dto.Email

	u := h.newUoW()
	users := repository.RepositoryFor[models.User](u)
	_, err := users.Get(r.Context(), repository.ByColumn("email", email))
	if err == nil {
		h.invalid(w, r, "Register", "email is already registered")
		return
	}
	if !errors.Is(err, repository.ErrNotFound) {
		h.fail(w, r, "Register", err)
		return
	}

	hash, err := auth.HashPassword(dto.Password)
	if err != nil {
		h.fail(w, r, "Register", err)
		return
	}
	user := users.Insert(&models.User{
		Email:        email,
		FirstName:    dto.FirstName,
		LastName:     dto.LastName,
		PhoneNumber:  dto.PhoneNumber,
		PasswordHash: hash,
		Roles:        types.StringList{models.RoleUser},
		CreatedAt:    time.Now().UTC(),
	})
	if err := u.Save(r.Context()); err != nil {
		if isDataConflict(err) {
			h.invalid(w, r, "Register", "email is already registered")
			return
		}
		h.fail(w, r, "Register", err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserDTO(user))
}

func (h *Handlers) login(w http.ResponseWriter, r *http.Request) {
	var dto LoginDTO
	if p := decodeAndValidate(w, r, h.validate, &dto); p != nil {
		writeProblemWith(w, *p)
		return
	}
	email := dto.Email

	users := repository.RepositoryFor[models.User](h.newUoW())
	user, err := users.Get(r.Context(), repository.ByColumn("email", email))
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		h.fail(w, r, "Login", err)
		return
	}
	if user == nil || !auth.CheckPassword(user.PasswordHash, dto.Password) {
		logger.WithField("email", email).Warn("Invalid login attempt")
		writeProblem(w, http.StatusUnauthorized, "Unauthorized", "invalid email or password")
		return
	}

	ttl := h.tokenTTL
	if ttl <= 0 {
		ttl = auth.DefaultTTL
	}
	token, err := h.authority.Issue(r.Context(), auth.Identity{UserID: user.ID, Email: user.Email}, user.Roles, ttl)
	if err != nil {
		h.fail(w, r, "Login", err)
		return
	}
	writeJSON(w, http.StatusOK, TokenResponse{Token: token, ExpiresAt: time.Now().Add(ttl).UTC()})
}
