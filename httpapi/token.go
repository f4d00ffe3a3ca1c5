package httpapi

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"library-catalog/library"
)

var errInvalidClaims = errors.New("invalid token claims")

// TokenIssuer signs and verifies HS256 bearer tokens carrying the user id.
type TokenIssuer struct {
	secret []byte
	expiry time.Duration
	now    func() time.Time
}

func NewTokenIssuer(secret string, expiry time.Duration) *TokenIssuer {
	if secret == "" {
		panic("JWT secret cannot be empty")
	}
	return &TokenIssuer{secret: []byte(secret), expiry: expiry, now: time.Now}
}

// Issue returns a signed token for u.
func (ti *TokenIssuer) Issue(u *library.User) (string, error) {
	now := ti.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id":  u.ID,
		"username": u.Username,
		"exp":      now.Add(ti.expiry).Unix(),
		"iat":      now.Unix(),
	})
	return token.SignedString(ti.secret)
}

// Parse validates the token and returns the user id it was issued for.
func (ti *TokenIssuer) Parse(tokenStr string) (int64, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return ti.secret, nil
	})
	if err != nil {
		return 0, fmt.Errorf("token validation failed: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return 0, errInvalidClaims
	}
	// JSON numbers decode as float64.
	id, ok := claims["user_id"].(float64)
	if !ok || id <= 0 || id != float64(int64(id)) {
		return 0, errInvalidClaims
	}
	return int64(id), nil
}
