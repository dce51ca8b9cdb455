package utils

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/yeremiapane/dinein/apperr"
)

type JSONResponse struct {
	Status  bool        `json:"status"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func RespondJSON(c *gin.Context, code int, message string, data interface{}) {
	c.JSON(code, JSONResponse{
		Status:  code >= 200 && code < 300,
		Message: message,
		Data:    data,
	})
}

func RespondError(c *gin.Context, code int, err error) {
	c.JSON(code, JSONResponse{
		Status:  false,
		Message: err.Error(),
		Data:    nil,
	})
}

// RespondErrorData is RespondError with a machine readable payload, e.g. the
// error kind and the offending entity id.
func RespondErrorData(c *gin.Context, code int, err error, data interface{}) {
	c.JSON(code, JSONResponse{
		Status:  false,
		Message: err.Error(),
		Data:    data,
	})
}

// RespondServiceError writes a typed business failure with its code and
// entity id. Anything that is not an apperr.Error is logged and reported
// as an internal error.
func RespondServiceError(c *gin.Context, err error) {
	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		ErrorLogger.WithFields(logrus.Fields{
			"path":   c.Request.URL.Path,
			"method": c.Request.Method,
		}).Errorf("unhandled error: %v", err)
		RespondError(c, http.StatusInternalServerError, errors.New("internal server error"))
		return
	}

	data := gin.H{"code": appErr.ErrorCode()}
	if appErr.EntityID != nil {
		data["entity_id"] = appErr.EntityID
	}
	RespondErrorData(c, apperr.HTTPStatus(err), err, data)
}
