package controllers

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yeremiapane/dinein/apperr"
	"github.com/yeremiapane/dinein/auth"
	"github.com/yeremiapane/dinein/middlewares"
	"github.com/yeremiapane/dinein/utils"
)

// paramID parses a numeric path parameter, writing a validation failure
// when it is not one.
func paramID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		utils.RespondServiceError(c, apperr.ErrValidation.New(c.Param(name), "invalid %s", name))
		return 0, false
	}
	return uint(id), true
}

func queryID(c *gin.Context, name string) (uint, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, true
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		utils.RespondServiceError(c, apperr.ErrValidation.New(raw, "invalid %s", name))
		return 0, false
	}
	return uint(id), true
}

func queryTime(c *gin.Context, name string) (*time.Time, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		utils.RespondServiceError(c, apperr.ErrValidation.New(raw, "%s must be RFC3339", name))
		return nil, false
	}
	return &t, true
}

func bindJSON(c *gin.Context, body interface{}) bool {
	if err := c.ShouldBindJSON(body); err != nil {
		utils.RespondServiceError(c, apperr.ErrValidation.New(nil, "%v", err))
		return false
	}
	return true
}

// caller is the authenticated SessionContext; routes using it sit behind
// middlewares.AuthMiddleware.
func caller(c *gin.Context) auth.SessionContext {
	sc, _ := middlewares.SessionFrom(c)
	return sc
}
