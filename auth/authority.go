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

// Package auth issues and validates the bearer tokens that gate write access
// to the catalog, and hashes account passwords.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/tomoncle/hotellisting/metrics"
	"github.com/tomoncle/hotellisting/utils"
)

// Key source kinds accepted by Config.KeySource.
const (
	KeySourceStatic = "static"
	KeySourceRedis  = "redis"
)

const (
	DefaultIssuer = "HotelListing_Api"
	DefaultTTL    = time.Hour
)

// Config holds the token settings. Signature and lifetime are always
// validated; issuer and audience only when enabled.
type Config struct {
	Key              string        `json:"-" yaml:"key"`
	KeyID            string        `json:"key_id" yaml:"key_id"`
	Issuer           string        `json:"issuer" yaml:"issuer"`
	Audience         string        `json:"audience" yaml:"audience"`
	ValidateIssuer   bool          `json:"validate_issuer" yaml:"validate_issuer"`
	ValidateAudience bool          `json:"validate_audience" yaml:"validate_audience"`
	TTL              time.Duration `json:"ttl" yaml:"ttl"`
	ClockSkew        time.Duration `json:"clock_skew" yaml:"clock_skew"`
	KeySource        string        `json:"key_source" yaml:"key_source"`
}

func DefaultConfig() Config {
	return Config{
		KeyID:     "default",
		Issuer:    DefaultIssuer,
		Audience:  DefaultIssuer,
		TTL:       DefaultTTL,
		KeySource: KeySourceStatic,
	}
}

// Validate checks the settings that do not depend on the key source.
func (c Config) Validate() error {
	if c.ValidateIssuer && c.Issuer == "" {
		return errors.New("auth: issuer validation enabled without an issuer")
	}
	if c.ValidateAudience && c.Audience == "" {
		return errors.New("auth: audience validation enabled without an audience")
	}
	if c.TTL < 0 || c.ClockSkew < 0 {
		return errors.New("auth: ttl and clock skew must not be negative")
	}
	switch c.KeySource {
	case "", KeySourceStatic:
		if len(c.Key) < MinKeyLength {
			return fmt.Errorf("auth: signing key must be at least %d bytes", MinKeyLength)
		}
	case KeySourceRedis:
	default:
		return fmt.Errorf("auth: unsupported key source %q", c.KeySource)
	}
	return nil
}

// Identity is the subject a token is issued for.
type Identity struct {
	UserID int64
	Email  string
}

// ClaimSet is the validated content of a token.
type ClaimSet struct {
	UserID    int64
	Email     string
	Roles     []string
	TokenID   string
	Issuer    string
	Audience  []string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// HasRole reports whether the claim set carries role, ignoring case.
func (c *ClaimSet) HasRole(role string) bool {
	if c == nil {
		return false
	}
	for _, r := range c.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

type tokenClaims struct {
	Email string   `json:"email,omitempty"`
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// AuthorityOption configures an Authority.
type AuthorityOption func(*Authority)

// WithClock replaces the time source used for issuing and validating.
func WithClock(now func() time.Time) AuthorityOption {
	return func(a *Authority) { a.now = now }
}

func WithLogger(l *utils.Logger) AuthorityOption {
	return func(a *Authority) { a.logger = l }
}

// Authority issues HS256 tokens and validates them. It is safe for
// concurrent use.
type Authority struct {
	cfg    Config
	keys   KeySource
	now    func() time.Time
	logger *utils.Logger
}

func NewAuthority(cfg Config, keys KeySource, opts ...AuthorityOption) (*Authority, error) {
	if keys == nil {
		return nil, errors.New("auth: key source is required")
	}
	if cfg.ValidateIssuer && cfg.Issuer == "" {
		return nil, errors.New("auth: issuer validation enabled without an issuer")
	}
	if cfg.ValidateAudience && cfg.Audience == "" {
		return nil, errors.New("auth: audience validation enabled without an audience")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	a := &Authority{cfg: cfg, keys: keys, now: time.Now, logger: utils.NewLogger("AUTH")}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Issue signs a token for id carrying roles. A non-positive ttl uses the
// configured lifetime.
func (a *Authority) Issue(ctx context.Context, id Identity, roles []string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = a.cfg.TTL
	}
	key, err := a.keys.SigningKey(ctx)
	if err != nil {
		return "", fmt.Errorf("auth: signing key: %w", err)
	}
	now := a.now()
	claims := tokenClaims{
		Email: id.Email,
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(id.UserID, 10),
			Issuer:    a.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		},
	}
	if a.cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{a.cfg.Audience}
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	if key.ID != "" {
		token.Header["kid"] = key.ID
	}
	signed, err := token.SignedString(key.Secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// Validate checks signature, lifetime and, when enabled, issuer and
// audience. Failed checks return a *RejectedError; key source failures are
// returned as they are.
func (a *Authority) Validate(ctx context.Context, raw string) (*ClaimSet, error) {
	cs, err := a.validate(ctx, raw)
	var rejected *RejectedError
	switch {
	case err == nil:
		metrics.ObserveTokenValidation("valid")
	case errors.As(err, &rejected):
		metrics.ObserveTokenValidation(rejected.Reason.String())
		a.logger.WithField("reason", rejected.Reason.String()).Debugf("Token rejected: %v", rejected.Cause)
	default:
		metrics.ObserveTokenValidation("error")
		a.logger.WithError(err).Warn("Token validation failed")
	}
	return cs, err
}

func (a *Authority) validate(ctx context.Context, raw string) (*ClaimSet, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, reject(Malformed, errors.New("empty token"))
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(a.cfg.ClockSkew),
		jwt.WithTimeFunc(a.now),
	}
	if a.cfg.ValidateIssuer {
		opts = append(opts, jwt.WithIssuer(a.cfg.Issuer))
	}
	if a.cfg.ValidateAudience {
		opts = append(opts, jwt.WithAudience(a.cfg.Audience))
	}

	var keyErr error
	claims := &tokenClaims{}
	_, err := jwt.NewParser(opts...).ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		k, err := a.keys.VerificationKey(ctx, kid)
		if err != nil {
			keyErr = err
			return nil, err
		}
		return k.Secret, nil
	})
	if keyErr != nil && !errors.Is(keyErr, ErrUnknownKey) {
		return nil, fmt.Errorf("auth: verification key: %w", keyErr)
	}
	if err != nil {
		return nil, reject(classify(err), err)
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return nil, reject(Malformed, fmt.Errorf("subject %q: %w", claims.Subject, err))
	}
	cs := &ClaimSet{
		UserID:   userID,
		Email:    claims.Email,
		Roles:    claims.Roles,
		TokenID:  claims.ID,
		Issuer:   claims.Issuer,
		Audience: claims.Audience,
	}
	if claims.IssuedAt != nil {
		cs.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		cs.ExpiresAt = claims.ExpiresAt.Time
	}
	return cs, nil
}

// classify maps parser errors to a rejection reason. The parser may join
// several claim errors; the most fundamental one wins.
func classify(err error) Reason {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return Malformed
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return BadSignature
	case errors.Is(err, jwt.ErrTokenExpired),
		errors.Is(err, jwt.ErrTokenNotValidYet),
		errors.Is(err, jwt.ErrTokenUsedBeforeIssued),
		errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return Expired
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return IssuerMismatch
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return AudienceMismatch
	default:
		return Malformed
	}
}
