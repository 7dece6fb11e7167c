package utils

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims portées par les jetons lus par middleware.AuthRequired
type TokenSubject struct {
	UserID string
	Email  string
	Role   string
}

// GenerateJWT signe un jeton HS256 ; l'émission de jetons appartient au service d'authentification,
// ce helper sert aux outils et aux tests.
func GenerateJWT(secret []byte, sub TokenSubject, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"user_id": sub.UserID,
		"email":   sub.Email,
		"role":    sub.Role,
		"exp":     time.Now().Add(ttl).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}
