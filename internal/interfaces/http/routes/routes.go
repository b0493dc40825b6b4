// internal/interfaces/http/routes/routes.go
package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/your-org/marketplace-billing/internal/config"
	"github.com/your-org/marketplace-billing/internal/domain/cart"
	"github.com/your-org/marketplace-billing/internal/domain/checkout"
	"github.com/your-org/marketplace-billing/internal/domain/customer"
	"github.com/your-org/marketplace-billing/internal/domain/ledger"
	"github.com/your-org/marketplace-billing/internal/domain/order"
	"github.com/your-org/marketplace-billing/internal/domain/product"
	"github.com/your-org/marketplace-billing/internal/domain/reconcile"
	"github.com/your-org/marketplace-billing/internal/domain/subscription"
	"github.com/your-org/marketplace-billing/internal/domain/webhook"
	"github.com/your-org/marketplace-billing/internal/interfaces/http/handlers"
	"github.com/your-org/marketplace-billing/internal/interfaces/http/middleware"
	"github.com/your-org/marketplace-billing/internal/pkg/gateway"
	"github.com/your-org/marketplace-billing/internal/pkg/notify"
	"gorm.io/gorm"
)

// Services holds every domain service the HTTP layer calls
type Services struct {
	Carts         *cart.Service
	Orders        *order.Service
	Subscriptions *subscription.Service
	Checkout      *checkout.Service
	Reconciler    *reconcile.SubscriptionReconciler
	Webhook       *webhook.Service
}

// NewServices wires the domain services over one database and gateway
func NewServices(db *gorm.DB, cfg *config.Config, gw gateway.Gateway, notifier notify.Publisher, log logrus.FieldLogger) *Services {
	products := product.NewService(db)
	carts := cart.NewService(db, products)
	orders := order.NewService(db)
	subs := subscription.NewService(db)
	customers := customer.NewService(db, gw, cfg, log)

	orderReconciler := reconcile.NewOrderReconciler(db, gw, orders, carts, customers, notifier, log)
	subReconciler := reconcile.NewSubscriptionReconciler(gw, subs, customers, notifier, log)
	refundReconciler := reconcile.NewRefundReconciler(gw, orders, notifier, log)
	dispatcher := reconcile.NewDispatcher(orderReconciler, subReconciler, refundReconciler, log)

	return &Services{
		Carts:         carts,
		Orders:        orders,
		Subscriptions: subs,
		Checkout: checkout.NewService(cfg, gw, checkout.Dependencies{
			Carts:     carts,
			Products:  products,
			Orders:    orders,
			Subs:      subs,
			Customers: customers,
		}, log),
		Reconciler: subReconciler,
		Webhook:    webhook.NewService(cfg.External.Stripe.WebhookSecret, ledger.NewService(db), dispatcher, log),
	}
}

// SetupWebhookRoutes registers gateway callbacks. They carry no bearer token
// and are not rate limited.
func SetupWebhookRoutes(rg *gin.RouterGroup, svc *Services, cfg *config.Config, log logrus.FieldLogger) {
	webhookHandler := handlers.NewWebhookHandler(svc.Webhook, cfg.Webhook.MaxBodyBytes, log)

	webhooks := rg.Group("/webhooks")
	{
		webhooks.POST("/stripe", webhookHandler.Stripe)
	}
}

// SetupUserRoutes registers the authenticated, rate limited endpoints
func SetupUserRoutes(rg *gin.RouterGroup, svc *Services, cfg *config.Config, limiter middleware.RateCounter, log logrus.FieldLogger) {
	cartHandler := handlers.NewCartHandler(svc.Carts, log)
	checkoutHandler := handlers.NewCheckoutHandler(svc.Checkout, log)
	orderHandler := handlers.NewOrderHandler(svc.Orders, log)
	subscriptionHandler := handlers.NewSubscriptionHandler(svc.Subscriptions, svc.Reconciler, log)

	user := rg.Group("")
	user.Use(middleware.AuthMiddleware(cfg))
	user.Use(middleware.RateLimit(cfg, limiter, log))

	cartRoutes := user.Group("/cart")
	{
		cartRoutes.GET("", cartHandler.GetCart)
		cartRoutes.POST("/items", cartHandler.AddItem)
		cartRoutes.DELETE("/items/:product_id", cartHandler.RemoveItem)
	}

	checkoutRoutes := user.Group("/checkout")
	{
		checkoutRoutes.POST("/payment", checkoutHandler.StartPayment)
		checkoutRoutes.POST("/subscription", checkoutHandler.StartSubscription)
		checkoutRoutes.GET("/sessions/:id", checkoutHandler.GetSession)
	}

	user.POST("/billing/portal", checkoutHandler.Portal)

	subscriptionRoutes := user.Group("/subscriptions")
	{
		subscriptionRoutes.GET("/me", subscriptionHandler.GetMine)
		subscriptionRoutes.POST("/sync", subscriptionHandler.Sync)
	}

	orderRoutes := user.Group("/orders")
	{
		orderRoutes.GET("", orderHandler.GetOrders)
		orderRoutes.GET("/latest", orderHandler.GetLatest)
		orderRoutes.GET("/by-session/:session_id", orderHandler.GetBySession)
		orderRoutes.GET("/:id", orderHandler.GetOrder)
	}
}

// SetupRoutes registers every API route under rg
func SetupRoutes(rg *gin.RouterGroup, svc *Services, cfg *config.Config, limiter middleware.RateCounter, log logrus.FieldLogger) {
	SetupWebhookRoutes(rg, svc, cfg, log)
	SetupUserRoutes(rg, svc, cfg, limiter, log)
}
