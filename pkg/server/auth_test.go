// Copyright 2026 The Fablegrid Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthenticateWithoutSecretIsServerError(t *testing.T) {
	f := newServerFixture(t, Config{CORS: DefaultCORSConfig()})

	req := httptest.NewRequest(http.MethodGet, "/auth/profile", nil)
	req.Header.Set("Authorization", "Bearer some-token")

	_, err := f.srv.authenticate(req)
	require.ErrorIs(t, err, errAuthNotConfigured)
	assert.Equal(t, http.StatusInternalServerError, authErrorStatus(err))
}

func TestAuthenticateBadTokenIsUnauthorized(t *testing.T) {
	f := newServerFixture(t, Config{JWTSecret: "test-secret", CORS: DefaultCORSConfig()})

	req := httptest.NewRequest(http.MethodGet, "/auth/profile", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")

	_, err := f.srv.authenticate(req)
	require.Error(t, err)
	assert.NotErrorIs(t, err, errAuthNotConfigured)
	assert.Equal(t, http.StatusUnauthorized, authErrorStatus(err))

	// No header at all is a client error too.
	bare := httptest.NewRequest(http.MethodGet, "/auth/profile", nil)
	_, err = f.srv.authenticate(bare)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, authErrorStatus(err))
}
