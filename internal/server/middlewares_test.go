package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"guardianlink/internal/auth"
	"guardianlink/internal/storage"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestEnforceJSON(t *testing.T) {
	cases := []struct {
		name        string
		contentType string
		body        string
		status      int
	}{
		{"valid", "application/json", `{"a":1}`, http.StatusOK},
		{"blank content type defaults to json", "", `{"a":1}`, http.StatusOK},
		{"wrong content type", "text/plain", `{"a":1}`, http.StatusUnsupportedMediaType},
		{"malformed content type", "application/;;", `{"a":1}`, http.StatusBadRequest},
		{"empty body", "application/json", "", http.StatusBadRequest},
		{"malformed json", "application/json", `{"a":`, http.StatusBadRequest},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tc.body))
			if tc.contentType != "" {
				r.Header.Set("Content-Type", tc.contentType)
			}
			w := httptest.NewRecorder()

			enforceJSON(okHandler()).ServeHTTP(w, r)
			require.Equal(t, tc.status, w.Code)
		})
	}
}

func TestAuthenticate(t *testing.T) {
	signer := auth.NewSigner("secret", time.Hour)
	token, err := signer.Issue(storage.User{ID: "user-1", Role: storage.RoleTeacher})
	require.NoError(t, err)

	var seen auth.Claims
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = claimsFrom(r)
		w.WriteHeader(http.StatusOK)
	})
	mw := authenticate(signer)(inner)

	t.Run("missing header", func(t *testing.T) {
		w := httptest.NewRecorder()
		mw.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		require.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("not a bearer token", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", token)
		w := httptest.NewRecorder()
		mw.ServeHTTP(w, r)
		require.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("invalid token", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Bearer garbage")
		w := httptest.NewRecorder()
		mw.ServeHTTP(w, r)
		require.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("valid token", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		mw.ServeHTTP(w, r)
		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, "user-1", seen.UserID)
		require.Equal(t, storage.RoleTeacher, seen.Role)
	})
}
