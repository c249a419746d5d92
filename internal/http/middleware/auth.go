package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/iago/mathdoc-back/internal/session"
)

// Claims is the bearer token body issued by the identity provider.
type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

type AuthConfig struct {
	// JWTSecret enables HS256 bearer tokens.
	JWTSecret string
	// DevToken is a static bearer token for local use when no JWT secret is
	// set. The caller names itself with X-User-Id.
	DevToken string
	Tracker  *session.Tracker
}

// Auth resolves the caller's identity for /v1/ routes, stores it in the
// request context and records session activity.
func Auth(cfg AuthConfig) func(http.Handler) http.Handler {
	secret := []byte(cfg.JWTSecret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.HasPrefix(r.URL.Path, "/v1/") {
				next.ServeHTTP(w, r)
				return
			}

			var (
				identity session.Identity
				err      error
			)
			switch {
			case len(secret) > 0:
				identity, err = identityFromJWT(bearerToken(r), secret)
			case cfg.DevToken != "":
				identity, err = identityFromDevToken(r, cfg.DevToken)
			default:
				identity = session.Identity{UserID: headerUserID(r, "anonymous")}
			}
			if err != nil {
				writeUnauthorized(w, r)
				return
			}

			ctx := session.WithIdentity(r.Context(), identity)
			if cfg.Tracker != nil {
				cfg.Tracker.Touch(ctx, identity)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SignToken issues an HS256 token for userID.
func SignToken(secret, userID, email string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func identityFromJWT(raw string, secret []byte) (session.Identity, error) {
	if raw == "" {
		return session.Identity{}, errors.New("missing bearer token")
	}
	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(*jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return session.Identity{}, fmt.Errorf("parse token: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return session.Identity{}, errors.New("invalid token")
	}

	userID := strings.TrimSpace(claims.UserID)
	if userID == "" {
		userID = strings.TrimSpace(claims.Subject)
	}
	if userID == "" || strings.Contains(userID, "/") {
		return session.Identity{}, errors.New("token without usable user id")
	}
	return session.Identity{UserID: userID, Email: claims.Email}, nil
}

func identityFromDevToken(r *http.Request, devToken string) (session.Identity, error) {
	if bearerToken(r) != devToken {
		return session.Identity{}, errors.New("invalid dev token")
	}
	return session.Identity{UserID: headerUserID(r, "dev-user")}, nil
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	authorization := r.Header.Get("Authorization")
	if !strings.HasPrefix(authorization, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(authorization, prefix))
}

func headerUserID(r *http.Request, fallback string) string {
	userID := strings.TrimSpace(r.Header.Get("X-User-Id"))
	if userID == "" || strings.Contains(userID, "/") {
		return fallback
	}
	return userID
}

func writeUnauthorized(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":{"code":"unauthorized","message":"authentication required"},"request_id":"` + GetRequestID(r.Context()) + `"}`))
}
