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

package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type fixedClock struct{ t time.Time }

func (c *fixedClock) now() time.Time { return c.t }

func newTestAuthority(t *testing.T, cfg Config, clock *fixedClock) *Authority {
	t.Helper()
	keys, err := NewStaticKey("k1", testSecret)
	if err != nil {
		t.Fatal(err)
	}
	a, err := NewAuthority(cfg, keys, WithClock(clock.now))
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func expectRejected(t *testing.T, err error, reason Reason) {
	t.Helper()
	var rejected *RejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("expected rejection %s, got %v", reason, err)
	}
	if rejected.Reason != reason {
		t.Fatalf("reason = %s, want %s (%v)", rejected.Reason, reason, err)
	}
	if !errors.Is(err, ErrTokenRejected) || !errors.Is(err, reasonErrors[reason]) {
		t.Fatalf("rejection does not match its sentinels: %v", err)
	}
}

func TestIssueAndValidate(t *testing.T) {
	ctx := context.Background()
	clock := &fixedClock{time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	a := newTestAuthority(t, DefaultConfig(), clock)

	token, err := a.Issue(ctx, Identity{UserID: 7, Email: "admin@example.com"}, []string{"Administrator", "User"}, 0)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	cs, err := a.Validate(ctx, token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cs.UserID != 7 || cs.Email != "admin@example.com" || cs.Issuer != DefaultIssuer {
		t.Fatalf("unexpected claims: %+v", cs)
	}
	if len(cs.TokenID) != 26 {
		t.Fatalf("token id is not a ULID: %q", cs.TokenID)
	}
	if !cs.ExpiresAt.Equal(clock.t.Add(DefaultTTL)) {
		t.Fatalf("expires at %v", cs.ExpiresAt)
	}
	if !cs.HasRole("administrator") || cs.HasRole("auditor") {
		t.Fatalf("role check failed: %v", cs.Roles)
	}
}

func TestValidateExpired(t *testing.T) {
	ctx := context.Background()
	clock := &fixedClock{time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	a := newTestAuthority(t, DefaultConfig(), clock)
	token, err := a.Issue(ctx, Identity{UserID: 1}, nil, time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	clock.t = clock.t.Add(time.Minute + time.Second)
	_, err = a.Validate(ctx, token)
	expectRejected(t, err, Expired)

	cfg := DefaultConfig()
	cfg.ClockSkew = 5 * time.Second
	skewed := newTestAuthority(t, cfg, clock)
	if _, err := skewed.Validate(ctx, token); err != nil {
		t.Fatalf("token within clock skew rejected: %v", err)
	}
}

func TestValidateMissingExpiry(t *testing.T) {
	a := newTestAuthority(t, DefaultConfig(), &fixedClock{time.Now()})
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "1"}).SignedString(testSecret)
	if err != nil {
		t.Fatal(err)
	}
	_, err = a.Validate(context.Background(), token)
	expectRejected(t, err, Expired)
}

func TestValidateBadSignature(t *testing.T) {
	ctx := context.Background()
	clock := &fixedClock{time.Now()}
	a := newTestAuthority(t, DefaultConfig(), clock)

	otherKeys, _ := NewStaticKey("k1", []byte("ffffffffffffffffffffffffffffffff"))
	other, _ := NewAuthority(DefaultConfig(), otherKeys, WithClock(clock.now))
	forged, err := other.Issue(ctx, Identity{UserID: 1}, []string{"Administrator"}, 0)
	if err != nil {
		t.Fatal(err)
	}
	_, err = a.Validate(ctx, forged)
	expectRejected(t, err, BadSignature)

	genuine, _ := a.Issue(ctx, Identity{UserID: 1}, []string{"User"}, 0)
	parts := strings.Split(genuine, ".")
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]
	_, err = a.Validate(ctx, tampered)
	if err == nil {
		t.Fatalf("tampered token accepted")
	}

	hs512, _ := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{
		"sub": "1", "exp": clock.t.Add(time.Hour).Unix(),
	}).SignedString(testSecret)
	_, err = a.Validate(ctx, hs512)
	expectRejected(t, err, BadSignature)

	unknownKid := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "1", "exp": clock.t.Add(time.Hour).Unix()})
	unknownKid.Header["kid"] = "k9"
	raw, _ := unknownKid.SignedString(testSecret)
	_, err = a.Validate(ctx, raw)
	expectRejected(t, err, BadSignature)
}

func TestValidateMalformed(t *testing.T) {
	a := newTestAuthority(t, DefaultConfig(), &fixedClock{time.Now()})
	for _, raw := range []string{"", "   ", "not-a-token", "a.b.c"} {
		_, err := a.Validate(context.Background(), raw)
		expectRejected(t, err, Malformed)
	}
}

func TestValidateIssuerAndAudience(t *testing.T) {
	ctx := context.Background()
	clock := &fixedClock{time.Now()}

	issuing := DefaultConfig()
	issuing.Issuer = "someone-else"
	issuing.Audience = "elsewhere"
	token, err := newTestAuthority(t, issuing, clock).Issue(ctx, Identity{UserID: 3}, nil, 0)
	if err != nil {
		t.Fatal(err)
	}

	// checks are off by default
	if _, err := newTestAuthority(t, DefaultConfig(), clock).Validate(ctx, token); err != nil {
		t.Fatalf("issuer/audience checked while disabled: %v", err)
	}

	cfg := DefaultConfig()
	cfg.ValidateIssuer = true
	_, err = newTestAuthority(t, cfg, clock).Validate(ctx, token)
	expectRejected(t, err, IssuerMismatch)

	cfg = DefaultConfig()
	cfg.ValidateAudience = true
	_, err = newTestAuthority(t, cfg, clock).Validate(ctx, token)
	expectRejected(t, err, AudienceMismatch)
}

type failingKeys struct{ err error }

func (f failingKeys) SigningKey(context.Context) (Key, error) { return Key{}, f.err }

func (f failingKeys) VerificationKey(context.Context, string) (Key, error) { return Key{}, f.err }

func TestKeySourceFailureIsNotARejection(t *testing.T) {
	ctx := context.Background()
	clock := &fixedClock{time.Now()}
	token, _ := newTestAuthority(t, DefaultConfig(), clock).Issue(ctx, Identity{UserID: 1}, nil, 0)

	down := errors.New("key store down")
	a, err := NewAuthority(DefaultConfig(), failingKeys{down}, WithClock(clock.now))
	if err != nil {
		t.Fatal(err)
	}
	_, err = a.Validate(ctx, token)
	if !errors.Is(err, down) || errors.Is(err, ErrTokenRejected) {
		t.Fatalf("expected plain key source error, got %v", err)
	}
	if _, err := a.Issue(ctx, Identity{UserID: 1}, nil, 0); !errors.Is(err, down) {
		t.Fatalf("issue: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err == nil {
		t.Fatalf("missing key accepted")
	}
	cfg.Key = string(testSecret)
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	cfg.ValidateIssuer, cfg.Issuer = true, ""
	if err := cfg.Validate(); err == nil {
		t.Fatalf("issuer validation without issuer accepted")
	}
	cfg = DefaultConfig()
	cfg.KeySource = KeySourceRedis
	if err := cfg.Validate(); err != nil {
		t.Fatalf("redis key source needs no static key: %v", err)
	}
	if _, err := NewStaticKey("short", []byte("too-short")); err == nil {
		t.Fatalf("short key accepted")
	}
	if _, err := NewAuthority(DefaultConfig(), nil); err == nil {
		t.Fatalf("nil key source accepted")
	}
}

func TestPasswordHash(t *testing.T) {
	PasswordCost = bcrypt.MinCost
	defer func() { PasswordCost = bcrypt.DefaultCost }()

	hash, err := HashPassword("P@ssword1")
	if err != nil {
		t.Fatal(err)
	}
	if hash == "P@ssword1" || !CheckPassword(hash, "P@ssword1") || CheckPassword(hash, "wrong") {
		t.Fatalf("password check failed")
	}
}

func TestBearerToken(t *testing.T) {
	cases := map[string]string{
		"Bearer abc":   "abc",
		"bearer  abc ": "abc",
		"Basic abc":    "",
		"Bearer":       "",
		"":             "",
	}
	for header, want := range cases {
		got, ok := BearerToken(header)
		if got != want || ok != (want != "") {
			t.Fatalf("BearerToken(%q) = %q, %v", header, got, ok)
		}
	}
}

func TestClaimsContext(t *testing.T) {
	ctx := context.Background()
	if _, ok := ClaimsFrom(ctx); ok {
		t.Fatalf("claims found in empty context")
	}
	cs := &ClaimSet{UserID: 9}
	got, ok := ClaimsFrom(WithClaims(ctx, cs))
	if !ok || got != cs {
		t.Fatalf("claims not carried")
	}
}
