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
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// MinKeyLength is the minimum HS256 secret length in bytes.
const MinKeyLength = 32

// Key is a symmetric signing key and the id carried in the token header.
type Key struct {
	ID     string
	Secret []byte
}

func (k Key) validate() error {
	if len(k.Secret) < MinKeyLength {
		return fmt.Errorf("auth: signing key %q must be at least %d bytes, got %d", k.ID, MinKeyLength, len(k.Secret))
	}
	return nil
}

// KeySource resolves signing keys. Implementations may perform I/O, so every
// lookup takes the caller's context.
type KeySource interface {
	// SigningKey returns the key new tokens are signed with.
	SigningKey(ctx context.Context) (Key, error)
	// VerificationKey returns the key with id kid. An empty kid selects the
	// current signing key. Unknown ids yield ErrUnknownKey.
	VerificationKey(ctx context.Context, kid string) (Key, error)
}

// StaticKey is a single key supplied by configuration.
type StaticKey struct {
	key Key
}

// NewStaticKey returns a key source holding one secret.
func NewStaticKey(id string, secret []byte) (*StaticKey, error) {
	k := Key{ID: id, Secret: secret}
	if err := k.validate(); err != nil {
		return nil, err
	}
	return &StaticKey{key: k}, nil
}

func (s *StaticKey) SigningKey(context.Context) (Key, error) { return s.key, nil }

func (s *StaticKey) VerificationKey(_ context.Context, kid string) (Key, error) {
	if kid != "" && kid != s.key.ID {
		return Key{}, fmt.Errorf("%w: %q", ErrUnknownKey, kid)
	}
	return s.key, nil
}

// RedisKeySource keeps rotating keys in Redis. Secrets live under
// "<prefix>:keys:<kid>" and "<prefix>:current" names the signing key.
// Retired keys stay valid for verification until they are removed.
type RedisKeySource struct {
	client redis.UniversalClient
	prefix string
}

// DefaultRedisKeyPrefix namespaces the keys written by RedisKeySource.
const DefaultRedisKeyPrefix = "hotellisting:jwt"

func NewRedisKeySource(client redis.UniversalClient, prefix string) *RedisKeySource {
	if prefix == "" {
		prefix = DefaultRedisKeyPrefix
	}
	return &RedisKeySource{client: client, prefix: strings.TrimSuffix(prefix, ":")}
}

func (s *RedisKeySource) keyName(kid string) string { return s.prefix + ":keys:" + kid }

func (s *RedisKeySource) currentName() string { return s.prefix + ":current" }

// Publish stores k and makes it the signing key. Tokens signed with earlier
// keys keep validating.
func (s *RedisKeySource) Publish(ctx context.Context, k Key) error {
	if k.ID == "" {
		return errors.New("auth: key id is required")
	}
	if err := k.validate(); err != nil {
		return err
	}
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, s.keyName(k.ID), k.Secret, 0)
		p.Set(ctx, s.currentName(), k.ID, 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("auth: publish key %q: %w", k.ID, err)
	}
	return nil
}

// Remove deletes the key with kid. Tokens signed with it stop validating.
func (s *RedisKeySource) Remove(ctx context.Context, kid string) error {
	if err := s.client.Del(ctx, s.keyName(kid)).Err(); err != nil {
		return fmt.Errorf("auth: remove key %q: %w", kid, err)
	}
	return nil
}

func (s *RedisKeySource) SigningKey(ctx context.Context) (Key, error) {
	return s.VerificationKey(ctx, "")
}

func (s *RedisKeySource) VerificationKey(ctx context.Context, kid string) (Key, error) {
	if kid == "" {
		current, err := s.client.Get(ctx, s.currentName()).Result()
		if errors.Is(err, redis.Nil) {
			return Key{}, fmt.Errorf("%w: no current key", ErrUnknownKey)
		}
		if err != nil {
			return Key{}, fmt.Errorf("auth: read current key: %w", err)
		}
		kid = current
	}
	secret, err := s.client.Get(ctx, s.keyName(kid)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Key{}, fmt.Errorf("%w: %q", ErrUnknownKey, kid)
	}
	if err != nil {
		return Key{}, fmt.Errorf("auth: read key %q: %w", kid, err)
	}
	return Key{ID: kid, Secret: secret}, nil
}
