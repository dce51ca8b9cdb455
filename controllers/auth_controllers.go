package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yeremiapane/dinein/services"
	"github.com/yeremiapane/dinein/utils"
)

type AuthController struct {
	Auth *services.AuthService
}

func NewAuthController(svc *services.AuthService) *AuthController {
	return &AuthController{Auth: svc}
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
	VenueID  *uint  `json:"venue_id"`
}

// Login -> POST /auth/login
func (ac *AuthController) Login(c *gin.Context) {
	var body loginRequest
	if !bindJSON(c, &body) {
		return
	}

	creds, sc, err := ac.Auth.Login(c.Request.Context(), body.Email, body.Password, body.VenueID)
	if err != nil {
		utils.RespondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Login successful", gin.H{
		"credentials": creds,
		"context":     sc,
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// Refresh -> POST /auth/refresh
func (ac *AuthController) Refresh(c *gin.Context) {
	var body refreshRequest
	if !bindJSON(c, &body) {
		return
	}

	creds, err := ac.Auth.Refresh(c.Request.Context(), body.RefreshToken)
	if err != nil {
		utils.RespondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Token refreshed", creds)
}
