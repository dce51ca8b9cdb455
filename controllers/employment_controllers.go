package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yeremiapane/dinein/apperr"
	"github.com/yeremiapane/dinein/middlewares"
	"github.com/yeremiapane/dinein/services"
	"github.com/yeremiapane/dinein/utils"
)

type EmploymentController struct {
	Employments *services.EmploymentService
}

func NewEmploymentController(svc *services.EmploymentService) *EmploymentController {
	return &EmploymentController{Employments: svc}
}

type hireRequest struct {
	Email string `json:"email" binding:"required,email"`
	Role  string `json:"role" binding:"required"`
}

// Hire -> POST /venues/:venue_id/employments
func (ec *EmploymentController) Hire(c *gin.Context) {
	venueID, ok := paramID(c, "venue_id")
	if !ok {
		return
	}
	tc := middlewares.TenantFrom(c)
	if tc.VenueID != venueID {
		utils.RespondServiceError(c, apperr.ErrNotFound.New(venueID, "venue not found"))
		return
	}
	var body hireRequest
	if !bindJSON(c, &body) {
		return
	}

	employment, err := ec.Employments.Hire(c.Request.Context(), tc, caller(c), body.Email, body.Role)
	if err != nil {
		utils.RespondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusCreated, "Employment created", employment)
}
