package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yeremiapane/dinein/middlewares"
	"github.com/yeremiapane/dinein/services"
	"github.com/yeremiapane/dinein/utils"
)

type OrderController struct {
	Orders *services.OrderService
}

func NewOrderController(svc *services.OrderService) *OrderController {
	return &OrderController{Orders: svc}
}

type createOrderRequest struct {
	Items []services.OrderLine `json:"items" binding:"required,min=1,dive"`
}

// CreateOrder -> POST /orders
func (oc *OrderController) CreateOrder(c *gin.Context) {
	var body createOrderRequest
	if !bindJSON(c, &body) {
		return
	}

	order, err := oc.Orders.CreateOrder(c.Request.Context(), middlewares.TenantFrom(c), caller(c), body.Items)
	if err != nil {
		utils.RespondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusCreated, "Order created", order)
}

// GetOrder -> GET /orders/:order_id
func (oc *OrderController) GetOrder(c *gin.Context) {
	id, ok := paramID(c, "order_id")
	if !ok {
		return
	}

	order, err := oc.Orders.GetOrder(c.Request.Context(), middlewares.TenantFrom(c), caller(c), id)
	if err != nil {
		utils.RespondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Order detail", order)
}

// ListOrders -> GET /orders?status=
func (oc *OrderController) ListOrders(c *gin.Context) {
	orders, err := oc.Orders.ListByVenue(c.Request.Context(), middlewares.TenantFrom(c), caller(c), c.Query("status"))
	if err != nil {
		utils.RespondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "List of orders", orders)
}

// ListSessionOrders -> GET /sessions/:session_id/orders
func (oc *OrderController) ListSessionOrders(c *gin.Context) {
	id, ok := paramID(c, "session_id")
	if !ok {
		return
	}

	orders, err := oc.Orders.ListBySession(c.Request.Context(), middlewares.TenantFrom(c), caller(c), id)
	if err != nil {
		utils.RespondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "List of session orders", orders)
}

// AddDetail -> POST /orders/:order_id/details
func (oc *OrderController) AddDetail(c *gin.Context) {
	id, ok := paramID(c, "order_id")
	if !ok {
		return
	}
	var line services.OrderLine
	if !bindJSON(c, &line) {
		return
	}

	order, err := oc.Orders.AddDetail(c.Request.Context(), middlewares.TenantFrom(c), caller(c), id, line)
	if err != nil {
		utils.RespondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Order detail added", order)
}

// RemoveDetail -> DELETE /orders/:order_id/details/:detail_id
func (oc *OrderController) RemoveDetail(c *gin.Context) {
	orderID, ok := paramID(c, "order_id")
	if !ok {
		return
	}
	detailID, ok := paramID(c, "detail_id")
	if !ok {
		return
	}

	order, err := oc.Orders.RemoveDetail(c.Request.Context(), middlewares.TenantFrom(c), caller(c), orderID, detailID)
	if err != nil {
		utils.RespondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Order detail removed", order)
}

type updateDetailRequest struct {
	Quantity            *int    `json:"quantity"`
	SpecialRequirements *string `json:"special_requirements"`
}

// UpdateDetail -> PATCH /orders/:order_id/details/:detail_id
// Body carries quantity, special_requirements or both.
func (oc *OrderController) UpdateDetail(c *gin.Context) {
	orderID, ok := paramID(c, "order_id")
	if !ok {
		return
	}
	detailID, ok := paramID(c, "detail_id")
	if !ok {
		return
	}
	var body updateDetailRequest
	if !bindJSON(c, &body) {
		return
	}

	order, err := oc.Orders.UpdateDetail(c.Request.Context(), middlewares.TenantFrom(c), caller(c), orderID, detailID, services.DetailUpdate{
		Quantity:            body.Quantity,
		SpecialRequirements: body.SpecialRequirements,
	})
	if err != nil {
		utils.RespondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Order detail updated", order)
}

type statusRequest struct {
	Status string `json:"status" binding:"required"`
}

// UpdateStatus -> PATCH /orders/:order_id/status
func (oc *OrderController) UpdateStatus(c *gin.Context) {
	id, ok := paramID(c, "order_id")
	if !ok {
		return
	}
	var body statusRequest
	if !bindJSON(c, &body) {
		return
	}

	order, err := oc.Orders.UpdateStatus(c.Request.Context(), middlewares.TenantFrom(c), caller(c), id, body.Status)
	if err != nil {
		utils.RespondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Order status updated", order)
}
