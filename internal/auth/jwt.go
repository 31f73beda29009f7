// Package auth validates bearer tokens and turns them into a caller identity.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"seatcheck/internal/roster"
)

// Token is a signed access token.
type Token struct {
	AccessToken string
	ExpiresAt   time.Time
}

// Claims represents JWT payload. The subject is the student id.
type Claims struct {
	Academies []string `json:"academies,omitempty"`
	jwt.RegisteredClaims
}

// Identity converts claims into the caller identity used by check-in.
func (c Claims) Identity() roster.Identity {
	return roster.Identity{StudentID: c.Subject, Academies: append([]string(nil), c.Academies...)}
}

// Issue signs an HS256 access token for studentID.
func Issue(studentID string, academies []string, issuer, key string, ttl time.Duration) (Token, error) {
	if studentID == "" {
		return Token{}, errors.New("student id required")
	}
	now := time.Now()
	exp := now.Add(ttl)
	claims := Claims{
		Academies: academies,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   studentID,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	if err != nil {
		return Token{}, err
	}
	return Token{AccessToken: signed, ExpiresAt: exp}, nil
}

// Parse validates a token and returns claims.
func Parse(tokenStr, key, issuer string) (Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(key), nil
	}, opts...)
	if err != nil {
		return Claims{}, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Claims{}, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return Claims{}, errors.New("token has no subject")
	}
	return *claims, nil
}
