package routes

import (
	"net/http"

	"botstore/catalog"
	"botstore/customorders"
	"botstore/middleware"
	"botstore/orders"
	"botstore/ratelim"
	"botstore/reconcile"

	"github.com/julienschmidt/httprouter"
)

// Deps are the handler sets the router is assembled from.
type Deps struct {
	Catalog  *catalog.Handlers
	Orders   *orders.Handlers
	Custom   *customorders.Handlers
	Payments *reconcile.Handlers
	// Events is the operator websocket endpoint; it authorizes on its own.
	Events  httprouter.Handle
	Auth    *middleware.Auth
	Limiter *ratelim.RateLimiter
}

// Index is a simple health check handler.
func Index(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	w.Write([]byte("200"))
}

func New(d Deps) *httprouter.Router {
	router := httprouter.New()
	router.GET("/health", Index)

	AddCatalogRoutes(router, d)
	AddOrderRoutes(router, d)
	AddCustomOrderRoutes(router, d)
	AddPaymentRoutes(router, d)
	router.GET("/api/admin/events", d.Events)
	return router
}

func AddCatalogRoutes(router *httprouter.Router, d Deps) {
	h, admin := d.Catalog, d.Auth.RequireAdmin
	router.GET("/api/catalog", h.GetCatalog)
	router.GET("/api/products/:item", h.GetProduct)
	router.GET("/api/pages/:slug", h.GetPage)

	router.GET("/api/admin/catalog/products", admin(h.ListProducts))
	router.POST("/api/admin/catalog/products", admin(h.SaveProduct))
	router.PUT("/api/admin/catalog/products/:item/archive", admin(h.ArchiveProduct))
	router.POST("/api/admin/catalog/categories", admin(h.AddCategory))
	router.DELETE("/api/admin/catalog/categories/:name", admin(h.RemoveCategory))
	router.PUT("/api/admin/catalog/settings", admin(h.SaveSettings))
	router.PUT("/api/admin/catalog/pages/:slug", admin(h.SavePage))
}

func AddOrderRoutes(router *httprouter.Router, d Deps) {
	h, admin := d.Orders, d.Auth.RequireAdmin
	router.POST("/api/checkout", d.Limiter.Limit(h.Checkout))
	router.GET("/api/orders/:item/:ref", h.Get)
	router.GET("/api/orders/:item/:ref/receipt", h.Receipt)
	router.GET("/api/orders/:item/:ref/download", h.Download)

	router.GET("/api/admin/orders", admin(h.List))
	router.PUT("/api/admin/orders/:item/:ref/status", admin(h.UpdateStatus))
}

func AddCustomOrderRoutes(router *httprouter.Router, d Deps) {
	h, admin := d.Custom, d.Auth.RequireAdmin
	router.POST("/api/custom-orders", d.Limiter.Limit(h.Create))
	router.GET("/api/custom-orders/track/:tracking", h.Track)
	router.GET("/api/custom-orders/status/:ref", h.Status)

	router.GET("/api/admin/custom-orders", admin(h.List))
	router.GET("/api/admin/custom-orders/:id", admin(h.Get))
	router.POST("/api/admin/custom-orders/:id/complete", admin(h.Complete))
	router.POST("/api/admin/custom-orders/:id/refund", admin(h.Refund))
}

func AddPaymentRoutes(router *httprouter.Router, d Deps) {
	h := d.Payments
	router.POST("/api/payments/manual", d.Limiter.Limit(h.SubmitManual))
	router.POST("/api/payments/callback", h.GatewayCallback)
	router.POST("/api/payments/crypto-webhook", h.CryptoWebhook)
}
