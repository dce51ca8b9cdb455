package middlewares

import (
	"github.com/gin-gonic/gin"

	"github.com/yeremiapane/dinein/apperr"
	"github.com/yeremiapane/dinein/utils"
)

// RoleCheck lets through callers holding one of roles.
func RoleCheck(roles ...string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(c *gin.Context) {
		sc, ok := SessionFrom(c)
		if !ok {
			utils.RespondServiceError(c, apperr.ErrInvalidCredential.New(nil, "unauthorized"))
			c.Abort()
			return
		}
		if !allowed[sc.Role] {
			utils.RespondServiceError(c, apperr.ErrForbidden.New(nil, "%s access not allowed", sc.Role))
			c.Abort()
			return
		}
		c.Next()
	}
}

// StaffOnly lets through any staff role.
func StaffOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		sc, ok := SessionFrom(c)
		if !ok {
			utils.RespondServiceError(c, apperr.ErrInvalidCredential.New(nil, "unauthorized"))
			c.Abort()
			return
		}
		if !sc.IsStaff() {
			utils.RespondServiceError(c, apperr.ErrForbidden.New(nil, "staff access required"))
			c.Abort()
			return
		}
		c.Next()
	}
}
