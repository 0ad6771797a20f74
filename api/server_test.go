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
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/tomoncle/hotellisting/auth"
	"github.com/tomoncle/hotellisting/database"
	"github.com/tomoncle/hotellisting/metrics"
	"github.com/tomoncle/hotellisting/models"
	"github.com/tomoncle/hotellisting/repository"
	"github.com/uptrace/bun"
	"golang.org/x/crypto/bcrypt"
)

const (
	adminEmail    = "admin@hotellisting.test"
	adminPassword = "Adm1nP@ssword"
)

func TestMain(m *testing.M) {
	auth.PasswordCost = bcrypt.MinCost
	os.Exit(m.Run())
}

type testEnv struct {
	handler   http.Handler
	db        *bun.DB
	authority *auth.Authority
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	ctx := context.Background()

	cfg := database.DefaultConnectionConfig()
	cfg.DBName = database.MemoryDBName
	dm := database.NewDatabaseManager(cfg)
	dm.SetLogger(database.NopLogger{})
	if err := dm.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = dm.Disconnect() })

	hash, err := auth.HashPassword(adminPassword)
	if err != nil {
		t.Fatal(err)
	}
	if err := dm.RunMigrations(ctx, models.SeedReferenceData(), models.BootstrapAdmin(adminEmail, hash)); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	keys, err := auth.NewStaticKey("test", []byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatal(err)
	}
	authority, err := auth.NewAuthority(auth.DefaultConfig(), keys)
	if err != nil {
		t.Fatal(err)
	}

	srv := NewServer(Deps{
		UnitOfWork: repository.NewFactory(dm.GetDB(), repository.WithLogger(database.NopLogger{})),
		Authority:  authority,
		Health:     dm.HealthCheck,
		Registry:   metrics.InitRegistry(),
		TokenTTL:   time.Hour,
	}, opts)
	return &testEnv{handler: srv.Handler(), db: dm.GetDB(), authority: authority}
}

func (e *testEnv) token(t *testing.T, roles ...string) string {
	t.Helper()
	tok, err := e.authority.Issue(context.Background(), auth.Identity{UserID: 1, Email: adminEmail}, roles, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func (e *testEnv) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return v
}

func expectStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Fatalf("status = %d, want %d, body: %s", rr.Code, want, rr.Body.String())
	}
}

func TestGetCountries(t *testing.T) {
	e := newTestEnv(t, Options{})

	rr := e.do(t, "GET", "/countries", nil, "")
	expectStatus(t, rr, http.StatusOK)
	all := decode[[]CountryDTO](t, rr)
	if len(all) != 3 || all[0].ShortCode != "JAM" {
		t.Fatalf("unexpected countries: %+v", all)
	}

	rr = e.do(t, "GET", "/countries?page=2&page_size=2", nil, "")
	expectStatus(t, rr, http.StatusOK)
	if rr.Header().Get("X-Total-Count") != "3" || len(decode[[]CountryDTO](t, rr)) != 1 {
		t.Fatalf("unexpected page: %s %s", rr.Header().Get("X-Total-Count"), rr.Body.String())
	}

	rr = e.do(t, "GET", "/countries/1", nil, "")
	expectStatus(t, rr, http.StatusOK)
	jam := decode[CountryDTO](t, rr)
	if len(jam.Hotels) != 1 || jam.Hotels[0].Name != "Sandals Resort and Spa" {
		t.Fatalf("hotels not included: %+v", jam)
	}

	rr = e.do(t, "GET", "/countries/999", nil, "")
	expectStatus(t, rr, http.StatusOK)
	if strings.TrimSpace(rr.Body.String()) != "null" {
		t.Fatalf("absent country body = %q", rr.Body.String())
	}

	rr = e.do(t, "GET", "/countries/abc", nil, "")
	expectStatus(t, rr, http.StatusBadRequest)
}

func TestCreateCountryRequiresAdministrator(t *testing.T) {
	e := newTestEnv(t, Options{})
	body := CreateCountryDTO{Name: "Barbados", ShortCode: "BRB"}

	rr := e.do(t, "POST", "/countries", body, "")
	expectStatus(t, rr, http.StatusUnauthorized)
	if rr.Header().Get("WWW-Authenticate") == "" {
		t.Fatalf("missing WWW-Authenticate header")
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Fatalf("content type = %q", ct)
	}

	expectStatus(t, e.do(t, "POST", "/countries", body, "garbage"), http.StatusUnauthorized)
	expectStatus(t, e.do(t, "POST", "/countries", body, e.token(t, models.RoleUser)), http.StatusForbidden)

	admin := e.token(t, models.RoleAdministrator, models.RoleUser)
	rr = e.do(t, "POST", "/countries", CreateCountryDTO{Name: "", ShortCode: "TOOLONG"}, admin)
	expectStatus(t, rr, http.StatusBadRequest)
	p := decode[problem](t, rr)
	if p.Errors["name"] == "" || p.Errors["short_code"] == "" {
		t.Fatalf("field errors missing: %+v", p)
	}
	expectStatus(t, e.do(t, "POST", "/countries", "{not json", admin), http.StatusBadRequest)

	// role names are matched without regard to case
	rr = e.do(t, "POST", "/countries", body, e.token(t, "administrator"))
	expectStatus(t, rr, http.StatusCreated)
	created := decode[CountryDTO](t, rr)
	if created.ID == 0 || rr.Header().Get("Location") == "" {
		t.Fatalf("created country: %+v location=%q", created, rr.Header().Get("Location"))
	}
	rr = e.do(t, "GET", rr.Header().Get("Location"), nil, "")
	expectStatus(t, rr, http.StatusOK)
	if decode[CountryDTO](t, rr).Name != "Barbados" {
		t.Fatalf("created country not readable")
	}
}

func TestUpdateCountry(t *testing.T) {
	e := newTestEnv(t, Options{})
	body := CreateCountryDTO{Name: "Jamaica W.I.", ShortCode: "jam"}

	expectStatus(t, e.do(t, "PUT", "/countries/1", body, ""), http.StatusNoContent)
	got := decode[CountryDTO](t, e.do(t, "GET", "/countries/1", nil, ""))
	if got.Name != "Jamaica W.I." || got.ShortCode != "JAM" || len(got.Hotels) != 1 {
		t.Fatalf("update not applied: %+v", got)
	}

	expectStatus(t, e.do(t, "PUT", "/countries/999", body, ""), http.StatusBadRequest)
	expectStatus(t, e.do(t, "PUT", "/countries/0", body, ""), http.StatusBadRequest)
	expectStatus(t, e.do(t, "PUT", "/countries/1", CreateCountryDTO{}, ""), http.StatusBadRequest)
}

func TestBlankFieldsRejectedAfterTrimming(t *testing.T) {
	e := newTestEnv(t, Options{})
	admin := e.token(t, models.RoleAdministrator)
	blank := `{"name":"   ","short_code":"JA "}`

	for _, tc := range []struct{ method, path string }{
		{"POST", "/countries"},
		{"PUT", "/countries/1"},
	} {
		rr := e.do(t, tc.method, tc.path, blank, admin)
		expectStatus(t, rr, http.StatusBadRequest)
		p := decode[problem](t, rr)
		if p.Errors["name"] == "" || p.Errors["short_code"] == "" {
			t.Fatalf("%s %s: field errors missing: %+v", tc.method, tc.path, p)
		}
	}
	got := decode[CountryDTO](t, e.do(t, "GET", "/countries/1", nil, ""))
	if got.Name != "Jamaica" || got.ShortCode != "JAM" {
		t.Fatalf("country changed by rejected update: %+v", got)
	}

	rr := e.do(t, "POST", "/hotels", `{"name":" ","address":" ","rating":3,"country_id":1}`, admin)
	expectStatus(t, rr, http.StatusBadRequest)
	p := decode[problem](t, rr)
	if p.Errors["name"] == "" || p.Errors["address"] == "" {
		t.Fatalf("hotel field errors missing: %+v", p)
	}

	// surrounding space is dropped before storing
	rr = e.do(t, "POST", "/countries", `{"name":"  Barbados ","short_code":" brb "}`, admin)
	expectStatus(t, rr, http.StatusCreated)
	created := decode[CountryDTO](t, rr)
	if created.Name != "Barbados" || created.ShortCode != "BRB" {
		t.Fatalf("created country not normalized: %+v", created)
	}
}

func TestDeleteCountryCascades(t *testing.T) {
	e := newTestEnv(t, Options{})
	token := e.token(t, models.RoleUser)

	expectStatus(t, e.do(t, "DELETE", "/countries/1", nil, ""), http.StatusUnauthorized)
	expectStatus(t, e.do(t, "DELETE", "/countries/1", nil, token), http.StatusNoContent)
	expectStatus(t, e.do(t, "DELETE", "/countries/1", nil, token), http.StatusBadRequest)

	hotels := decode[[]HotelDTO](t, e.do(t, "GET", "/hotels", nil, ""))
	if len(hotels) != 2 {
		t.Fatalf("hotels after cascade = %d, want 2", len(hotels))
	}
	for _, h := range hotels {
		if h.CountryID == 1 {
			t.Fatalf("hotel %q survived its country", h.Name)
		}
	}
}

func TestHotels(t *testing.T) {
	e := newTestEnv(t, Options{})
	user := e.token(t, models.RoleUser)
	admin := e.token(t, models.RoleAdministrator)

	expectStatus(t, e.do(t, "GET", "/hotels/1", nil, ""), http.StatusUnauthorized)
	rr := e.do(t, "GET", "/hotels/1", nil, user)
	expectStatus(t, rr, http.StatusOK)
	h := decode[HotelDTO](t, rr)
	if h.Country == nil || h.Country.ShortCode != "JAM" {
		t.Fatalf("country not included: %+v", h)
	}

	newHotel := CreateHotelDTO{Name: "Half Moon", Address: "Montego Bay", Rating: 4.6, CountryID: 1}
	expectStatus(t, e.do(t, "POST", "/hotels", newHotel, user), http.StatusForbidden)

	bad := newHotel
	bad.CountryID = 999
	rr = e.do(t, "POST", "/hotels", bad, admin)
	expectStatus(t, rr, http.StatusBadRequest)
	if decode[problem](t, rr).Errors["country_id"] == "" {
		t.Fatalf("unknown country not reported: %s", rr.Body.String())
	}
	bad = newHotel
	bad.Rating = 5.5
	expectStatus(t, e.do(t, "POST", "/hotels", bad, admin), http.StatusBadRequest)

	rr = e.do(t, "POST", "/hotels", newHotel, admin)
	expectStatus(t, rr, http.StatusCreated)
	created := decode[HotelDTO](t, rr)

	upd := newHotel
	upd.Rating = 4.8
	upd.CountryID = 2
	path := "/hotels/" + jsonNumber(created.ID)
	expectStatus(t, e.do(t, "PUT", path, upd, ""), http.StatusUnauthorized)
	expectStatus(t, e.do(t, "PUT", path, upd, user), http.StatusNoContent)
	got := decode[HotelDTO](t, e.do(t, "GET", path, nil, user))
	if got.Rating != 4.8 || got.CountryID != 2 || got.Country == nil || got.Country.ShortCode != "BAH" {
		t.Fatalf("update not applied: %+v", got)
	}

	expectStatus(t, e.do(t, "DELETE", path, nil, user), http.StatusNoContent)
	rr = e.do(t, "GET", path, nil, user)
	expectStatus(t, rr, http.StatusOK)
	if strings.TrimSpace(rr.Body.String()) != "null" {
		t.Fatalf("deleted hotel still returned: %s", rr.Body.String())
	}
	expectStatus(t, e.do(t, "DELETE", path, nil, user), http.StatusBadRequest)
}

func TestRegisterAndLogin(t *testing.T) {
	e := newTestEnv(t, Options{})
	reg := RegisterDTO{Email: "Guest@Example.com", Password: "s3cretPass", FirstName: "Guest"}

	rr := e.do(t, "POST", "/accounts/register", reg, "")
	expectStatus(t, rr, http.StatusCreated)
	user := decode[UserDTO](t, rr)
	if user.Email != "guest@example.com" || len(user.Roles) != 1 || user.Roles[0] != models.RoleUser {
		t.Fatalf("unexpected user: %+v", user)
	}
	if strings.Contains(rr.Body.String(), "password") {
		t.Fatalf("password leaked: %s", rr.Body.String())
	}
	expectStatus(t, e.do(t, "POST", "/accounts/register", reg, ""), http.StatusBadRequest)
	expectStatus(t, e.do(t, "POST", "/accounts/register", RegisterDTO{Email: "nope", Password: "x"}, ""), http.StatusBadRequest)

	expectStatus(t, e.do(t, "POST", "/accounts/login", LoginDTO{Email: reg.Email, Password: "wrong"}, ""), http.StatusUnauthorized)
	expectStatus(t, e.do(t, "POST", "/accounts/login", LoginDTO{Email: "nobody@example.com", Password: "x"}, ""), http.StatusUnauthorized)

	rr = e.do(t, "POST", "/accounts/login", LoginDTO{Email: reg.Email, Password: reg.Password}, "")
	expectStatus(t, rr, http.StatusOK)
	tok := decode[TokenResponse](t, rr)
	if tok.Token == "" || !tok.ExpiresAt.After(time.Now()) {
		t.Fatalf("unexpected token response: %+v", tok)
	}
	expectStatus(t, e.do(t, "GET", "/hotels/1", nil, tok.Token), http.StatusOK)
	expectStatus(t, e.do(t, "POST", "/countries", CreateCountryDTO{Name: "Aruba", ShortCode: "ABW"}, tok.Token), http.StatusForbidden)

	// the bootstrapped administrator may create countries
	rr = e.do(t, "POST", "/accounts/login", LoginDTO{Email: adminEmail, Password: adminPassword}, "")
	expectStatus(t, rr, http.StatusOK)
	admin := decode[TokenResponse](t, rr).Token
	expectStatus(t, e.do(t, "POST", "/countries", CreateCountryDTO{Name: "Aruba", ShortCode: "ABW"}, admin), http.StatusCreated)
}

func TestLoginRateLimit(t *testing.T) {
	e := newTestEnv(t, Options{LoginRatePerMinute: 1, LoginBurst: 2})
	body := LoginDTO{Email: "nobody@example.com", Password: "x"}
	expectStatus(t, e.do(t, "POST", "/accounts/login", body, ""), http.StatusUnauthorized)
	expectStatus(t, e.do(t, "POST", "/accounts/login", body, ""), http.StatusUnauthorized)
	rr := e.do(t, "POST", "/accounts/login", body, "")
	expectStatus(t, rr, http.StatusTooManyRequests)
	if rr.Header().Get("Retry-After") == "" {
		t.Fatalf("missing Retry-After")
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	e := newTestEnv(t, Options{})
	keys, _ := auth.NewStaticKey("test", []byte("0123456789abcdef0123456789abcdef"))
	past := time.Now().Add(-2 * time.Hour)
	old, _ := auth.NewAuthority(auth.DefaultConfig(), keys, auth.WithClock(func() time.Time { return past }))
	tok, err := old.Issue(context.Background(), auth.Identity{UserID: 1}, []string{models.RoleUser}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	rr := e.do(t, "GET", "/hotels/1", nil, tok)
	expectStatus(t, rr, http.StatusUnauthorized)
	if !strings.Contains(rr.Header().Get("WWW-Authenticate"), "invalid_token") {
		t.Fatalf("WWW-Authenticate = %q", rr.Header().Get("WWW-Authenticate"))
	}
}

func TestHealthAndMetrics(t *testing.T) {
	e := newTestEnv(t, Options{})
	rr := e.do(t, "GET", "/healthz", nil, "")
	expectStatus(t, rr, http.StatusOK)
	if !decode[database.HealthStatus](t, rr).Healthy {
		t.Fatalf("unhealthy: %s", rr.Body.String())
	}

	e.do(t, "GET", "/countries", nil, "")
	rr = e.do(t, "GET", "/metrics", nil, "")
	expectStatus(t, rr, http.StatusOK)
	if !strings.Contains(rr.Body.String(), "hotellisting_http_requests_total") {
		t.Fatalf("http metrics missing")
	}
}

func TestCORSAllowsAnyOrigin(t *testing.T) {
	e := newTestEnv(t, Options{})
	req := httptest.NewRequest("OPTIONS", "/countries", nil)
	req.Header.Set("Origin", "https://example.org")
	req.Header.Set("Access-Control-Request-Method", "DELETE")
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	if rr.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("allow origin = %q", rr.Header().Get("Access-Control-Allow-Origin"))
	}
}

func jsonNumber(id int64) string {
	b, _ := json.Marshal(id)
	return string(b)
}
