package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const operatorKey = "authOperator"

// Middleware verifies the Authorization bearer token and stores the operator
// name on the request context.
func Middleware(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Authorization: Bearer <token> required",
			})
			return
		}

		operator, err := svc.VerifyToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Invalid or expired token",
			})
			return
		}

		c.Set(operatorKey, operator)
		c.Next()
	}
}

// Operator returns the authenticated operator name, if any.
func Operator(c *gin.Context) (string, bool) {
	operator := c.GetString(operatorKey)
	return operator, operator != ""
}
