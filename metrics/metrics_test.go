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

package metrics_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tomoncle/hotellisting/metrics"
)

func TestRegistryAndHandler(t *testing.T) {
	reg := metrics.InitRegistry()
	if metrics.InitRegistry() != reg {
		t.Fatalf("registry not reused")
	}

	metrics.ObserveHTTP("/countries", "GET", 200, 12*time.Millisecond)
	metrics.ObserveCommit(metrics.CommitOK, 3*time.Millisecond)
	metrics.ObserveTokenValidation("expired")

	rr := httptest.NewRecorder()
	metrics.Handler(reg).ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics status: %d", rr.Code)
	}
	body, _ := io.ReadAll(rr.Body)
	out := string(body)
	for _, name := range []string{
		"hotellisting_http_requests_total",
		"hotellisting_uow_commits_total",
		"hotellisting_token_validations_total",
	} {
		if !strings.Contains(out, name) {
			t.Fatalf("expected %s in output", name)
		}
	}
}
