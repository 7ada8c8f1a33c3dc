package httpserver

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/perqly/cashback/pkg/cashback"
)

const contextKeyActor = "actor"

// AuthConfig holds the token verification settings.
type AuthConfig struct {
	SigningKey string
	Issuer     string
	TokenTTL   time.Duration
}

// Claims are the actor claims carried in the bearer token.
type Claims struct {
	ActorID string `json:"actor_id"`
	Role    string `json:"role"`
	jwt.RegisteredClaims
}

var errInvalidToken = errors.New("invalid token")

// GenerateToken signs an actor token; used by operator tooling and tests.
func GenerateToken(config AuthConfig, actorID string, role cashback.Role) (string, error) {
	claims := Claims{
		ActorID: actorID,
		Role:    string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(config.TokenTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    config.Issuer,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(config.SigningKey))
}

func parseToken(config AuthConfig, tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(config.SigningKey), nil
	}, jwt.WithIssuer(config.Issuer))
	if err != nil {
		return nil, errInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errInvalidToken
	}
	return claims, nil
}

// authRequired validates the bearer token and stores the actor in context.
func authRequired(config AuthConfig) gin.HandlerFunc {
	return func(requestContext *gin.Context) {
		header := requestContext.GetHeader("Authorization")
		if header == "" {
			requestContext.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			requestContext.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			return
		}
		claims, err := parseToken(config, parts[1])
		if err != nil {
			requestContext.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}
		switch cashback.Role(claims.Role) {
		case cashback.RoleCustomer, cashback.RoleStore, cashback.RoleAdmin:
		default:
			requestContext.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unknown role"})
			return
		}
		requestContext.Set(contextKeyActor, cashback.Actor{ID: claims.ActorID, Role: cashback.Role(claims.Role)})
		requestContext.Next()
	}
}

// currentActor returns the authenticated actor; authRequired must run first.
func currentActor(requestContext *gin.Context) cashback.Actor {
	value, _ := requestContext.Get(contextKeyActor)
	actor, _ := value.(cashback.Actor)
	return actor
}
