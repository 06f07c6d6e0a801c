package api

import (
	"strings"

	"github.com/gin-gonic/gin"

	apperrors "clinical-copilot/backend/pkg/errors"
	"clinical-copilot/backend/pkg/jwt"
)

// AuthMiddleware validates the clinician bearer token and stores the
// clinician id in the request context for logging and rate limiting.
func AuthMiddleware(jwtService *jwt.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.Error(apperrors.NewUnauthorizedError("MISSING_TOKEN", "authorization header is required"))
			c.Abort()
			return
		}

		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			c.Error(apperrors.NewUnauthorizedError("INVALID_TOKEN", "authorization header must be a bearer token"))
			c.Abort()
			return
		}

		claims, err := jwtService.ValidateToken(token)
		if err != nil {
			c.Error(apperrors.NewUnauthorizedError("INVALID_TOKEN", "token is invalid or expired"))
			c.Abort()
			return
		}

		c.Set("clinicianId", claims.ClinicianID)
		c.Set("clinicianRole", claims.Role)
		c.Next()
	}
}
