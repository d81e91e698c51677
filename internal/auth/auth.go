// Package auth verifies bearer tokens from the internal account service and
// from the federated OAuth provider.
package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"

	"checkout-service/internal/apperror"
)

const (
	RoleAdmin    = "admin"
	RoleCustomer = "customer"

	// InternalIssuer is stamped on tokens signed with the shared secret.
	InternalIssuer = "checkout-service"

	contextKey = "auth_user"
)

type JwtCustomClaims struct {
	Role  string   `json:"role,omitempty"`
	Roles []string `json:"roles,omitempty"`
	Email string   `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// User is the verified caller.
type User struct {
	ID    int
	Role  string
	Email string
}

func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

type Verifier struct {
	secret      []byte
	oauthIssuer string
	oauthKey    *rsa.PublicKey
}

// NewVerifier accepts HS256 tokens signed with secret and, when oauthIssuer
// is set, RS256 tokens from that issuer signed by the PEM encoded key.
func NewVerifier(secret, oauthIssuer, oauthPublicKeyPEM string) (*Verifier, error) {
	v := &Verifier{secret: []byte(secret), oauthIssuer: oauthIssuer}
	if oauthIssuer != "" {
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(oauthPublicKeyPEM))
		if err != nil {
			return nil, fmt.Errorf("parse oauth public key: %w", err)
		}
		v.oauthKey = key
	}
	return v, nil
}

// keyFor picks the verification key by issuer. Each issuer is pinned to its
// own algorithm so an HMAC token can never be checked against the RSA key.
func (v *Verifier) keyFor(token *jwt.Token) (interface{}, error) {
	claims, ok := token.Claims.(*JwtCustomClaims)
	if !ok {
		return nil, errors.New("unexpected claims type")
	}

	if v.oauthKey != nil && claims.Issuer == v.oauthIssuer {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return v.oauthKey, nil
	}
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
	}
	return v.secret, nil
}

// Parse verifies raw and returns the caller it names.
func (v *Verifier) Parse(raw string) (*User, error) {
	claims := &JwtCustomClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, v.keyFor, jwt.WithValidMethods([]string{"HS256", "RS256"}))
	if err != nil {
		return nil, err
	}

	id, err := strconv.Atoi(claims.Subject)
	if err != nil || id <= 0 {
		return nil, errors.New("token subject is not a user id")
	}

	user := &User{ID: id, Role: strings.ToLower(claims.Role), Email: claims.Email}
	if user.Role == "" {
		user.Role = RoleCustomer
		for _, r := range claims.Roles {
			if strings.EqualFold(r, RoleAdmin) {
				user.Role = RoleAdmin
			}
		}
	}
	return user, nil
}

// Sign issues an internal token. The account service owns login; this is
// used for service-to-service calls and tooling.
func (v *Verifier) Sign(userID int, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &JwtCustomClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    InternalIssuer,
			Subject:   strconv.Itoa(userID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// Middleware rejects requests without a valid bearer token and stores the
// caller for CurrentUser.
func (v *Verifier) Middleware() echo.MiddlewareFunc {
	return echojwt.WithConfig(echojwt.Config{
		ContextKey: contextKey,
		ParseTokenFunc: func(c echo.Context, auth string) (interface{}, error) {
			return v.Parse(auth)
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return apperror.Unauthorized("Invalid or expired token")
		},
	})
}

// CurrentUser returns the caller verified by Middleware.
func CurrentUser(c echo.Context) (*User, bool) {
	user, ok := c.Get(contextKey).(*User)
	return user, ok
}

// RequireAdmin must run after Middleware.
func RequireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		user, ok := CurrentUser(c)
		if !ok || !user.IsAdmin() {
			return apperror.Unauthorized("Admin access required")
		}
		return next(c)
	}
}
