package middleware

import (
	"net/http"
	"strings"

	"flagpost/internal/service"

	"github.com/gin-gonic/gin"
)

// JWTMiddleware authenticates the request and attaches the operator
// identity to the request context. The token comes from the Authorization
// header, or from ?token= for SSE connections where custom headers are not
// available.
func JWTMiddleware(auth *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := ""
		authHeader := c.GetHeader("Authorization")
		if authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) == 2 && parts[0] == "Bearer" {
				tokenString = parts[1]
			}
		}

		if tokenString == "" {
			tokenString = c.Query("token")
		}

		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization header missing"})
			return
		}

		claims, err := auth.ParseToken(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid access token"})
			return
		}

		op := &service.OperatorInfo{
			UserID:        claims.UserID,
			Username:      claims.Username,
			PlatformAdmin: claims.PlatformAdmin,
		}

		ctx := service.WithOperator(c.Request.Context(), op)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}
