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
	"errors"
	"fmt"
)

// Reason classifies why a token was rejected.
type Reason int

const (
	Malformed Reason = iota + 1
	BadSignature
	Expired
	IssuerMismatch
	AudienceMismatch
)

var (
	// ErrTokenRejected matches every *RejectedError.
	ErrTokenRejected = errors.New("auth: token rejected")

	ErrMalformed        = errors.New("auth: malformed token")
	ErrBadSignature     = errors.New("auth: bad token signature")
	ErrExpired          = errors.New("auth: token expired")
	ErrIssuerMismatch   = errors.New("auth: token issuer mismatch")
	ErrAudienceMismatch = errors.New("auth: token audience mismatch")

	// ErrUnknownKey is returned by a KeySource that holds no key for a kid.
	ErrUnknownKey = errors.New("auth: unknown signing key")
)

var reasonNames = map[Reason]string{
	Malformed:        "malformed",
	BadSignature:     "bad_signature",
	Expired:          "expired",
	IssuerMismatch:   "issuer_mismatch",
	AudienceMismatch: "audience_mismatch",
}

var reasonErrors = map[Reason]error{
	Malformed:        ErrMalformed,
	BadSignature:     ErrBadSignature,
	Expired:          ErrExpired,
	IssuerMismatch:   ErrIssuerMismatch,
	AudienceMismatch: ErrAudienceMismatch,
}

func (r Reason) String() string {
	if s, ok := reasonNames[r]; ok {
		return s
	}
	return "unknown"
}

// RejectedError is returned by Validate for tokens that fail validation.
type RejectedError struct {
	Reason Reason
	Cause  error
}

func (e *RejectedError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%v: %s", ErrTokenRejected, e.Reason)
	}
	return fmt.Sprintf("%v: %s: %v", ErrTokenRejected, e.Reason, e.Cause)
}

func (e *RejectedError) Unwrap() error { return e.Cause }

func (e *RejectedError) Is(target error) bool {
	return target == ErrTokenRejected || target == reasonErrors[e.Reason]
}

func reject(reason Reason, cause error) *RejectedError {
	return &RejectedError{Reason: reason, Cause: cause}
}
