package middleware

import (
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// AuthRequired exige un jeton Bearer valide et place user_id, email et role dans le contexte gin
func AuthRequired(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			log.Println("❌ Pas de header Authorization")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Token manquant"})
			return
		}
		if !authenticate(c, secret, authHeader) {
			return
		}
		c.Next()
	}
}

// OptionalAuth laisse passer les invités ; un jeton présent mais invalide reste refusé
func OptionalAuth(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.Next()
			return
		}
		if !authenticate(c, secret, authHeader) {
			return
		}
		c.Next()
	}
}

func authenticate(c *gin.Context, secret []byte, authHeader string) bool {
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		log.Printf("❌ Format Authorization invalide: %v parties", len(parts))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Format Authorization invalide"})
		return false
	}

	// l'expiration est vérifiée par le parser (claim exp)
	token, err := jwt.Parse(parts[1], func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("méthode de signature inattendue: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		log.Printf("❌ Erreur parsing JWT: %v", err)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Token invalide"})
		return false
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		log.Println("❌ Claims invalides")
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Token invalide"})
		return false
	}

	userID, ok := claims["user_id"].(string)
	if !ok || userID == "" {
		log.Printf("❌ user_id manquant ou invalide dans claims")
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id manquant"})
		return false
	}

	email, _ := claims["email"].(string)
	role, _ := claims["role"].(string)
	c.Set("user_id", userID)
	c.Set("email", email)
	c.Set("role", role)
	return true
}
