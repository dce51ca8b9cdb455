package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yeremiapane/dinein/auth"
	"github.com/yeremiapane/dinein/config"
	"github.com/yeremiapane/dinein/controllers"
	"github.com/yeremiapane/dinein/hub"
	"github.com/yeremiapane/dinein/middlewares"
	"github.com/yeremiapane/dinein/models"
	"github.com/yeremiapane/dinein/services"
	"github.com/yeremiapane/dinein/tenant"
)

// Deps is everything the HTTP surface is built from.
type Deps struct {
	Server      config.ServerConfig
	Tokens      *auth.TokenService
	Tenants     *tenant.Resolver
	Auth        *services.AuthService
	Sessions    *services.SessionService
	Orders      *services.OrderService
	Payments    *services.PaymentService
	Employments *services.EmploymentService
	Registry    *hub.Registry
}

func SetupRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middlewares.LoggerMiddleware())
	r.Use(middlewares.SecurityHeaders())
	r.Use(middlewares.CORSMiddlewares(d.Server.CORSAllowedOrigins))
	if d.Server.RateLimitRPS > 0 {
		r.Use(middlewares.NewRateLimiter(d.Server.RateLimitRPS, d.Server.RateLimitBurst).RateLimit())
	}

	authCtrl := controllers.NewAuthController(d.Auth)
	sessionCtrl := controllers.NewSessionController(d.Sessions)
	orderCtrl := controllers.NewOrderController(d.Orders)
	paymentCtrl := controllers.NewPaymentController(d.Payments)
	employmentCtrl := controllers.NewEmploymentController(d.Employments)
	wsCtrl := controllers.NewWSController(d.Registry, d.Sessions, d.Server.CORSAllowedOrigins)

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	authRoutes := r.Group("/auth")
	{
		authRoutes.POST("/login", authCtrl.Login)
		authRoutes.POST("/refresh", authCtrl.Refresh)
	}

	// Guests enter without a credential.
	tables := r.Group("/tables", middlewares.OptionalAuthMiddleware(d.Tokens))
	{
		tables.POST("/:table_id/enter", sessionCtrl.Enter)
		tables.POST("/:table_id/join", sessionCtrl.Join)
	}

	r.GET("/ws", middlewares.AuthMiddleware(d.Tokens), wsCtrl.Subscribe)

	scoped := r.Group("/", middlewares.AuthMiddleware(d.Tokens), middlewares.TenantMiddleware(d.Tenants))
	{
		scoped.GET("/sessions/current", sessionCtrl.Current)
		scoped.GET("/sessions", middlewares.StaffOnly(), sessionCtrl.List)
		scoped.POST("/sessions/:session_id/close", sessionCtrl.Close)
		scoped.POST("/sessions/:session_id/invite", sessionCtrl.Invite)
		scoped.GET("/sessions/:session_id/orders", orderCtrl.ListSessionOrders)

		scoped.POST("/orders", orderCtrl.CreateOrder)
		scoped.GET("/orders", orderCtrl.ListOrders)
		scoped.GET("/orders/:order_id", orderCtrl.GetOrder)
		scoped.POST("/orders/:order_id/details", orderCtrl.AddDetail)
		scoped.PATCH("/orders/:order_id/details/:detail_id", orderCtrl.UpdateDetail)
		scoped.DELETE("/orders/:order_id/details/:detail_id", orderCtrl.RemoveDetail)
		scoped.PATCH("/orders/:order_id/status", orderCtrl.UpdateStatus)

		scoped.POST("/payments", paymentCtrl.CreatePayment)
		scoped.GET("/payments", paymentCtrl.ListPayments)
		scoped.GET("/payments/:payment_id", paymentCtrl.GetPayment)
		scoped.PATCH("/payments/:payment_id", paymentCtrl.UpdatePayment)
		scoped.PATCH("/payments/:payment_id/status", paymentCtrl.UpdatePaymentStatus)

		scoped.POST("/venues/:venue_id/employments", middlewares.RoleCheck(models.RoleAdmin, models.RoleManager), employmentCtrl.Hire)
	}

	return r
}
