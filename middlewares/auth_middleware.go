package middlewares

import (
	"github.com/gin-gonic/gin"

	"github.com/yeremiapane/dinein/apperr"
	"github.com/yeremiapane/dinein/auth"
	"github.com/yeremiapane/dinein/utils"
)

const sessionContextKey = "session_context"

// requestToken reads the bearer header, falling back to the token query
// parameter for transports that cannot set headers.
func requestToken(c *gin.Context) (string, bool) {
	if header := c.GetHeader("Authorization"); header != "" {
		return auth.BearerToken(header)
	}
	token := c.Query("token")
	return token, token != ""
}

// AuthMiddleware requires a valid access credential.
func AuthMiddleware(tokens *auth.TokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := requestToken(c)
		if !ok {
			utils.RespondServiceError(c, apperr.ErrInvalidCredential.New(nil, "authorization credential missing"))
			c.Abort()
			return
		}
		sc, err := tokens.Verify(token)
		if err != nil {
			utils.RespondServiceError(c, err)
			c.Abort()
			return
		}
		setSession(c, sc)
		c.Next()
	}
}

// OptionalAuthMiddleware accepts anonymous requests, but a credential that
// is present must be valid.
func OptionalAuthMiddleware(tokens *auth.TokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := requestToken(c)
		if !ok {
			c.Next()
			return
		}
		sc, err := tokens.Verify(token)
		if err != nil {
			utils.RespondServiceError(c, err)
			c.Abort()
			return
		}
		setSession(c, sc)
		c.Next()
	}
}

func setSession(c *gin.Context, sc auth.SessionContext) {
	c.Set(sessionContextKey, sc)
	c.Request = c.Request.WithContext(auth.NewContext(c.Request.Context(), sc))
}

// SessionFrom returns the caller resolved by the auth middleware.
func SessionFrom(c *gin.Context) (auth.SessionContext, bool) {
	v, ok := c.Get(sessionContextKey)
	if !ok {
		return auth.SessionContext{}, false
	}
	sc, ok := v.(auth.SessionContext)
	return sc, ok
}

// CallerOrNil is SessionFrom for handlers behind OptionalAuthMiddleware.
func CallerOrNil(c *gin.Context) *auth.SessionContext {
	sc, ok := SessionFrom(c)
	if !ok {
		return nil
	}
	return &sc
}
