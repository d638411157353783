package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Context key for user data
type contextKey string

const userContextKey contextKey = "user"

var (
	errMissingToken  = errors.New("missing authorization header")
	errInvalidFormat = errors.New("invalid authorization format")
	errInvalidToken  = errors.New("invalid token")
)

// JWTClaims represents the claims in the storefront-issued JWT token
type JWTClaims struct {
	jwt.RegisteredClaims
	UserID  string `json:"user_id"`
	Email   string `json:"email,omitempty"`
	IsAdmin bool   `json:"is_admin"`
}

// AuthUser represents the authenticated shopper in request context
type AuthUser struct {
	ID      string
	Email   string
	IsAdmin bool
	// Token is forwarded to the storefront assistant endpoint.
	Token string
}

// bearerToken reads the token from the Authorization header or, for
// WebSocket upgrades where browsers cannot set headers, the token query
// parameter.
func bearerToken(req *http.Request) (string, error) {
	authHeader := req.Header.Get("Authorization")
	if authHeader == "" {
		if t := req.URL.Query().Get("token"); t != "" {
			return t, nil
		}
		return "", errMissingToken
	}

	// Expect "Bearer <token>"
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" || strings.TrimSpace(parts[1]) == "" {
		return "", errInvalidFormat
	}
	return strings.TrimSpace(parts[1]), nil
}

// parseToken validates an HS256 token and returns the shopper it names.
func (r *Router) parseToken(tokenString string) (*AuthUser, error) {
	if r.cfg.JWTSecret == "" {
		return nil, fmt.Errorf("%w: authentication is not configured", errInvalidToken)
	}

	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(r.cfg.JWTSecret), nil
	})
	if err != nil || !token.Valid {
		return nil, errInvalidToken
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok {
		return nil, errInvalidToken
	}

	id := claims.UserID
	if id == "" {
		id = claims.Subject
	}
	if id == "" {
		return nil, errInvalidToken
	}

	return &AuthUser{
		ID:      id,
		Email:   claims.Email,
		IsAdmin: claims.IsAdmin,
		Token:   tokenString,
	}, nil
}

// authenticate returns the shopper behind the request, or nil for a guest.
// A token that is present but unusable is an error.
func (r *Router) authenticate(req *http.Request) (*AuthUser, error) {
	tokenString, err := bearerToken(req)
	if errors.Is(err, errMissingToken) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r.parseToken(tokenString)
}

// withAuth is middleware that requires valid JWT authentication
func (r *Router) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		user, err := r.authenticate(req)
		if err != nil {
			http.Error(w, fmt.Sprintf(`{"error": %q}`, err.Error()), http.StatusUnauthorized)
			return
		}
		if user == nil {
			http.Error(w, `{"error": "missing authorization header"}`, http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(req.Context(), userContextKey, user)
		next.ServeHTTP(w, req.WithContext(ctx))
	}
}

// withOptionalAuth lets guests through but rejects bad tokens.
func (r *Router) withOptionalAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		user, err := r.authenticate(req)
		if err != nil {
			http.Error(w, fmt.Sprintf(`{"error": %q}`, err.Error()), http.StatusUnauthorized)
			return
		}
		if user != nil {
			req = req.WithContext(context.WithValue(req.Context(), userContextKey, user))
		}
		next.ServeHTTP(w, req)
	}
}

// withAdmin requires a token carrying the is_admin claim.
func (r *Router) withAdmin(next http.HandlerFunc) http.HandlerFunc {
	return r.withAuth(func(w http.ResponseWriter, req *http.Request) {
		authUser := getAuthUser(req.Context())
		if authUser == nil || !authUser.IsAdmin {
			http.Error(w, `{"error": "admin access required"}`, http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, req)
	})
}

// getAuthUser extracts the authenticated user from context
func getAuthUser(ctx context.Context) *AuthUser {
	user, _ := ctx.Value(userContextKey).(*AuthUser)
	return user
}
