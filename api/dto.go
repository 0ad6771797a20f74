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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/tomoncle/hotellisting/models"
)

const maxBodyBytes = 1 << 20

// CreateCountryDTO is accepted by POST and PUT /countries.
type CreateCountryDTO struct {
	Name      string `json:"name" validate:"required,max=50"`
	ShortCode string `json:"short_code" validate:"required,len=3"`
}

type CountryDTO struct {
	ID        int64       `json:"id"`
	Name      string      `json:"name"`
	ShortCode string      `json:"short_code"`
	Hotels    []*HotelDTO `json:"hotels,omitempty"`
}

// CreateHotelDTO is accepted by POST and PUT /hotels.
type CreateHotelDTO struct {
	Name      string  `json:"name" validate:"required,max=150"`
	Address   string  `json:"address" validate:"required,max=250"`
	Rating    float64 `json:"rating" validate:"gte=0,lte=5"`
	CountryID int64   `json:"country_id" validate:"required,gt=0"`
}

type HotelDTO struct {
	ID        int64       `json:"id"`
	Name      string      `json:"name"`
	Address   string      `json:"address"`
	Rating    float64     `json:"rating"`
	CountryID int64       `json:"country_id"`
	Country   *CountryDTO `json:"country,omitempty"`
}

type RegisterDTO struct {
	Email       string `json:"email" validate:"required,email,max=254"`
	Password    string `json:"password" validate:"required,min=8,max=72"`
	FirstName   string `json:"first_name" validate:"max=100"`
	LastName    string `json:"last_name" validate:"max=100"`
	PhoneNumber string `json:"phone_number" validate:"omitempty,max=32"`
}

type LoginDTO struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type UserDTO struct {
	ID          int64     `json:"id"`
	Email       string    `json:"email"`
	FirstName   string    `json:"first_name"`
	LastName    string    `json:"last_name"`
	PhoneNumber string    `json:"phone_number,omitempty"`
	Roles       []string  `json:"roles"`
	CreatedAt   time.Time `json:"created_at"`
}

type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func toCountryDTO(c *models.Country) *CountryDTO {
	if c == nil {
		return nil
	}
	dto := &CountryDTO{ID: c.ID, Name: c.Name, ShortCode: c.ShortCode}
	for _, h := range c.Hotels {
		hd := toHotelDTO(h)
		hd.Country = nil
		dto.Hotels = append(dto.Hotels, hd)
	}
	return dto
}

func toHotelDTO(h *models.Hotel) *HotelDTO {
	if h == nil {
		return nil
	}
	dto := &HotelDTO{ID: h.ID, Name: h.Name, Address: h.Address, Rating: h.Rating, CountryID: h.CountryID}
	if h.Country != nil {
		dto.Country = &CountryDTO{ID: h.Country.ID, Name: h.Country.Name, ShortCode: h.Country.ShortCode}
	}
	return dto
}

func toUserDTO(u *models.User) *UserDTO {
	return &UserDTO{
		ID:          u.ID,
		Email:       u.Email,
		FirstName:   u.FirstName,
		LastName:    u.LastName,
		PhoneNumber: u.PhoneNumber,
		Roles:       u.Roles,
		CreatedAt:   u.CreatedAt,
	}
}

// normalizer is implemented by DTOs that clean their fields before
// validation, so the rules see the values that get stored.
type normalizer interface {
	normalize()
}

func (d *CreateCountryDTO) normalize() {
	d.Name = strings.TrimSpace(d.Name)
	d.ShortCode = strings.ToUpper(strings.TrimSpace(d.ShortCode))
}

func (d *CreateHotelDTO) normalize() {
	d.Name = strings.TrimSpace(d.Name)
	d.Address = strings.TrimSpace(d.Address)
}

func (d *RegisterDTO) normalize() {
	d.Email = strings.ToLower(strings.TrimSpace(d.Email))
	d.FirstName = strings.TrimSpace(d.FirstName)
	d.LastName = strings.TrimSpace(d.LastName)
	d.PhoneNumber = strings.TrimSpace(d.PhoneNumber)
}

func (d *LoginDTO) normalize() {
	d.Email = strings.ToLower(strings.TrimSpace(d.Email))
}

func (d *CreateCountryDTO) applyTo(c *models.Country) {
	c.Name = d.Name
	c.ShortCode = d.ShortCode
}

func (d *CreateHotelDTO) applyTo(h *models.Hotel) {
	h.Name = d.Name
	h.Address = d.Address
	h.Rating = d.Rating
	h.CountryID = d.CountryID
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeAndValidate reads a JSON body into dst, normalizes it and validates
// it. The returned problem is nil on success.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, v *validator.Validate, dst any) *problem {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		detail := "request body must be a JSON object"
		if errors.Is(err, io.EOF) {
			detail = "request body is empty"
		}
		return &problem{Type: "about:blank", Title: msgInvalid, Status: http.StatusBadRequest, Detail: detail}
	}
	if n, ok := dst.(normalizer); ok {
		n.normalize()
	}
	err := v.Struct(dst)
	if err == nil {
		return nil
	}
	p := &problem{Type: "about:blank", Title: msgInvalid, Status: http.StatusBadRequest, Errors: map[string]string{}}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			p.Errors[fe.Field()] = validationMessage(fe)
		}
	} else {
		p.Detail = err.Error()
	}
	return p
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "len":
		return fmt.Sprintf("must be exactly %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s", fe.Param())
	default:
		return "is invalid"
	}
}
