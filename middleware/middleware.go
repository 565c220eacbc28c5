package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"botstore/utils"

	"github.com/golang-jwt/jwt/v5"
	"github.com/julienschmidt/httprouter"
)

// AdminRole is the role claim that unlocks admin routes.
const AdminRole = "admin"

// JWT claims
type Claims struct {
	Username string   `json:"username"`
	UserID   string   `json:"userId"`
	Role     []string `json:"role"`
	jwt.RegisteredClaims
}

type ContextKey string

const ClaimsKey ContextKey = "claims"

var (
	ErrMissingToken = errors.New("missing token")
	ErrNotAdmin     = errors.New("admin role required")
)

// Auth validates admin tokens. Tokens are issued elsewhere; only HS256 is accepted.
type Auth struct {
	secret []byte
	log    *slog.Logger
}

func NewAuth(secret []byte, log *slog.Logger) *Auth {
	if log == nil {
		log = slog.Default()
	}
	return &Auth{secret: secret, log: log}
}

func (a *Auth) Parse(tokenString string) (*Claims, error) {
	if len(a.secret) == 0 {
		return nil, errors.New("admin auth is not configured")
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("unauthorized: %w", err)
	}
	return claims, nil
}

// FromRequest reads a Bearer token, or the token query parameter, which
// browsers need for websocket upgrades.
func (a *Auth) FromRequest(r *http.Request) (*Claims, error) {
	tokenString := r.URL.Query().Get("token")
	if h := r.Header.Get("Authorization"); h != "" {
		if !strings.HasPrefix(h, "Bearer ") {
			return nil, errors.New("invalid token format")
		}
		tokenString = h[len("Bearer "):]
	}
	if tokenString == "" {
		return nil, ErrMissingToken
	}
	return a.Parse(tokenString)
}

// Authorize reports whether r carries a valid admin token.
func (a *Auth) Authorize(r *http.Request) error {
	claims, err := a.FromRequest(r)
	if err != nil {
		return err
	}
	if !slices.Contains(claims.Role, AdminRole) {
		return ErrNotAdmin
	}
	return nil
}

func (a *Auth) RequireAdmin(next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		claims, err := a.FromRequest(r)
		if err != nil {
			utils.RespondWithError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if !slices.Contains(claims.Role, AdminRole) {
			a.log.Warn("non-admin token on admin route", "user", claims.UserID, "path", r.URL.Path)
			utils.RespondWithError(w, http.StatusForbidden, "forbidden")
			return
		}
		ctx := context.WithValue(r.Context(), ClaimsKey, claims)
		next(w, r.WithContext(ctx), ps)
	}
}

// AdminFromContext returns the claims RequireAdmin stored.
func AdminFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(ClaimsKey).(*Claims)
	return c, ok
}
