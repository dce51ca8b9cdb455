package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yeremiapane/dinein/middlewares"
	"github.com/yeremiapane/dinein/services"
	"github.com/yeremiapane/dinein/utils"
)

type PaymentController struct {
	Payments *services.PaymentService
}

func NewPaymentController(svc *services.PaymentService) *PaymentController {
	return &PaymentController{Payments: svc}
}

type createPaymentRequest struct {
	OrderIDs      []uint `json:"order_ids" binding:"required,min=1"`
	PaymentMethod string `json:"payment_method" binding:"required"`
}

// CreatePayment -> POST /payments
func (pc *PaymentController) CreatePayment(c *gin.Context) {
	var body createPaymentRequest
	if !bindJSON(c, &body) {
		return
	}

	payment, err := pc.Payments.Create(c.Request.Context(), middlewares.TenantFrom(c), caller(c), body.OrderIDs, body.PaymentMethod)
	if err != nil {
		utils.RespondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusCreated, "Payment created", payment)
}

type updatePaymentRequest struct {
	OrderIDs      []uint  `json:"order_ids"`
	PaymentMethod *string `json:"payment_method"`
}

// UpdatePayment -> PATCH /payments/:payment_id
func (pc *PaymentController) UpdatePayment(c *gin.Context) {
	id, ok := paramID(c, "payment_id")
	if !ok {
		return
	}
	var body updatePaymentRequest
	if !bindJSON(c, &body) {
		return
	}

	payment, err := pc.Payments.Update(c.Request.Context(), middlewares.TenantFrom(c), caller(c), id, services.PaymentUpdate{
		OrderIDs: body.OrderIDs,
		Method:   body.PaymentMethod,
	})
	if err != nil {
		utils.RespondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Payment updated", payment)
}

// UpdatePaymentStatus -> PATCH /payments/:payment_id/status
func (pc *PaymentController) UpdatePaymentStatus(c *gin.Context) {
	id, ok := paramID(c, "payment_id")
	if !ok {
		return
	}
	var body statusRequest
	if !bindJSON(c, &body) {
		return
	}

	payment, err := pc.Payments.UpdateStatus(c.Request.Context(), middlewares.TenantFrom(c), caller(c), id, body.Status)
	if err != nil {
		utils.RespondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Payment status updated", payment)
}

// GetPayment -> GET /payments/:payment_id
func (pc *PaymentController) GetPayment(c *gin.Context) {
	id, ok := paramID(c, "payment_id")
	if !ok {
		return
	}

	payment, err := pc.Payments.Get(c.Request.Context(), middlewares.TenantFrom(c), caller(c), id)
	if err != nil {
		utils.RespondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Payment detail", payment)
}

// ListPayments -> GET /payments?status=
func (pc *PaymentController) ListPayments(c *gin.Context) {
	payments, err := pc.Payments.List(c.Request.Context(), middlewares.TenantFrom(c), caller(c), c.Query("status"))
	if err != nil {
		utils.RespondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "List of payments", payments)
}
