package server

import (
	"bytes"
	"context"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/rs/xid"
	"github.com/valyala/fastjson"
	"go.uber.org/zap"

	"guardianlink/internal/auth"
	"guardianlink/internal/storage/zapadapter"
)

// enforceJSON is a middleware pre-processing each mutating HTTP request
// it checks for application/json Content-Type header and valid json body
// it also sets blank Content-Type header to application/json
func enforceJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType := r.Header.Get("Content-Type")
		if contentType != "" {
			mt, _, err := mime.ParseMediaType(contentType)
			if err != nil {
				respondError(w, http.StatusBadRequest, "Malformed Content-Type header")
				return
			}

			if mt != "application/json" {
				respondError(w, http.StatusUnsupportedMediaType, "Content-Type header must be application/json")
				return
			}
		} else {
			r.Header.Set("Content-Type", "application/json")
		}

		var bodyBuf bytes.Buffer
		bodyReader := io.TeeReader(r.Body, &bodyBuf)
		body, err := io.ReadAll(bodyReader)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Can not read request body")
			return
		}

		if len(body) == 0 {
			respondError(w, http.StatusBadRequest, "No body provided")
			return
		}

		if err := fastjson.ValidateBytes(body); err != nil {
			respondError(w, http.StatusBadRequest, "Malformed JSON")
			return
		}

		r.Body = io.NopCloser(&bodyBuf)

		next.ServeHTTP(w, r)
	})
}

// requestLog tags each request with an id carried to the storage layer via
// context, so HTTP and SQL log lines correlate.
func requestLog(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := xid.New().String()

			ctx := zapadapter.NewContextWithID(r.Context(), id)
			rwID := r.WithContext(ctx)

			logger.Info("incoming http request",
				zap.String("id", id),
				zap.String("method", r.Method),
				zap.String("uri", r.URL.RequestURI()),
				zap.String("ip", r.RemoteAddr),
			)

			next.ServeHTTP(w, rwID)
		})
	}
}

type claimsCtxKey struct{}

// authenticate validates the bearer token and stores the claims in the
// request context.
func authenticate(signer auth.Signer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			raw := strings.TrimPrefix(header, "Bearer ")
			if header == "" || raw == header {
				respondError(w, http.StatusUnauthorized, "Missing bearer token")
				return
			}

			claims, err := signer.Parse(raw)
			if err != nil {
				respondError(w, http.StatusUnauthorized, "Invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), claimsCtxKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func claimsFrom(r *http.Request) auth.Claims {
	claims, _ := r.Context().Value(claimsCtxKey{}).(auth.Claims)
	return claims
}
