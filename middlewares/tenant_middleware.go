package middlewares

import (
	"github.com/gin-gonic/gin"

	"github.com/yeremiapane/dinein/tenant"
	"github.com/yeremiapane/dinein/utils"
)

const tenantContextKey = "tenant_context"

// TenantMiddleware resolves the venue of the authenticated caller. It must
// run after AuthMiddleware.
func TenantMiddleware(resolver *tenant.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		sc, _ := SessionFrom(c)
		tc, err := resolver.Resolve(c.Request.Context(), sc)
		if err != nil {
			utils.RespondServiceError(c, err)
			c.Abort()
			return
		}
		c.Set(tenantContextKey, tc)
		c.Next()
	}
}

// TenantFrom returns the venue resolved by TenantMiddleware.
func TenantFrom(c *gin.Context) tenant.Context {
	v, _ := c.Get(tenantContextKey)
	tc, _ := v.(tenant.Context)
	return tc
}
