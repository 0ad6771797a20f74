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
	"strings"
)

type claimsKey struct{}

// WithClaims returns a copy of ctx carrying the validated claim set.
func WithClaims(ctx context.Context, c *ClaimSet) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

// ClaimsFrom returns the claim set stored by WithClaims.
func ClaimsFrom(ctx context.Context) (*ClaimSet, bool) {
	c, ok := ctx.Value(claimsKey{}).(*ClaimSet)
	return c, ok && c != nil
}

// BearerToken extracts the token from an "Authorization: Bearer <token>"
// header value. ok is false when the scheme is missing or the token empty.
func BearerToken(header string) (token string, ok bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
