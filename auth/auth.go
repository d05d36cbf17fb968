// Package auth verifies bearer tokens and resolves the calling user.
package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken = errors.New("access token is missing")
	ErrInvalidToken = errors.New("access token is invalid")
)

const bearerScheme = "Bearer"

// Claims carries the user id the token was issued for.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"userId"`
}

// JWTAuthenticator accepts HS256 tokens signed with a shared secret.
type JWTAuthenticator struct {
	secret []byte
	now    func() time.Time
}

type Option func(a *JWTAuthenticator)

func WithClock(now func() time.Time) Option {
	return func(a *JWTAuthenticator) {
		if now != nil {
			a.now = now
		}
	}
}

func NewJWTAuthenticator(secret string, opts ...Option) *JWTAuthenticator {
	a := &JWTAuthenticator{
		secret: []byte(secret),
		now:    time.Now,
	}

	for _, o := range opts {
		o(a)
	}

	return a
}

// Authenticate returns the user id carried by the request's bearer token.
func (a *JWTAuthenticator) Authenticate(r *http.Request) (string, error) {
	token, err := bearerToken(r.Header.Get("Authorization"))
	if err != nil {
		return "", err
	}

	return a.Verify(token)
}

func (a *JWTAuthenticator) Verify(token string) (string, error) {
	if len(a.secret) == 0 {
		return "", errors.Wrap(ErrInvalidToken, "no signing secret configured")
	}

	var claims Claims

	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return "", errors.WithSecondaryError(errors.Wrap(ErrInvalidToken, "parse token"), err)
	}

	if strings.TrimSpace(claims.UserID) == "" {
		return "", errors.Wrap(ErrInvalidToken, "token carries no userId")
	}

	return claims.UserID, nil
}

// Issue signs a token for userID. A zero ttl issues a token without expiry.
func (a *JWTAuthenticator) Issue(userID string, ttl time.Duration) (string, error) {
	now := a.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(now),
		},
		UserID: userID,
	}

	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", errors.Wrap(err, "sign token")
	}

	return signed, nil
}

func bearerToken(header string) (string, error) {
	scheme, token, _ := strings.Cut(strings.TrimSpace(header), " ")
	if scheme == "" {
		return "", ErrMissingToken
	}

	if !strings.EqualFold(scheme, bearerScheme) {
		return "", errors.Wrapf(ErrInvalidToken, "unsupported authorization scheme %q", scheme)
	}

	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrMissingToken
	}

	return token, nil
}
