// Package auth issues and checks the bearer tokens webshop customers use.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/josh-kwaku/sep-payments/internal/domain"
)

// Issuer is stamped on every token and required on the way back in.
const Issuer = "sep-webshop"

var ErrInvalidSubject = errors.New("token subject is not a user id")

type Claims struct {
	UserID uuid.UUID
	Email  string
	Name   string
}

type customerClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
	Name  string `json:"name"`
}

// GenerateToken signs an HS256 token whose subject is the user id.
func GenerateToken(u *domain.User, secret string, expiry time.Duration) (string, error) {
	now := time.Now()
	claims := customerClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   u.ID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Email: u.Email,
		Name:  u.Name(),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("GenerateToken: %w", err)
	}
	return signed, nil
}

func ValidateToken(tokenString, secret string) (*Claims, error) {
	var cc customerClaims
	_, err := jwt.ParseWithClaims(tokenString, &cc, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("ValidateToken: %w", err)
	}

	userID, err := uuid.Parse(cc.Subject)
	if err != nil {
		return nil, fmt.Errorf("ValidateToken: %w", ErrInvalidSubject)
	}
	return &Claims{UserID: userID, Email: cc.Email, Name: cc.Name}, nil
}
