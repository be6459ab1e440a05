package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/echo-cicd-demo/internal/handler"
)

// RegisterRoutes registers the service description endpoints: the
// welcome message, the liveness probe used by the pipeline and
// orchestrators, and the application info endpoint.
func RegisterRoutes(e *echo.Echo, h *handler.InfoHandler) {
	e.GET("/", h.Welcome)
	e.GET("/health", h.Health)
	e.GET("/api/info", h.Info)
}

// RegisterItems registers CRUD routes for items under /api/items.  The
// optional middlewares (the response cache in production) apply to this
// group only.
func RegisterItems(e *echo.Echo, h *handler.ItemHandler, m ...echo.MiddlewareFunc) {
	g := e.Group("/api/items", m...)
	g.GET("", h.ListItems)
	g.POST("/:item_id", h.CreateItem)
	g.GET("/:item_id", h.GetItem)
	g.PUT("/:item_id", h.UpdateItem)
	g.DELETE("/:item_id", h.DeleteItem)
}

// New builds an Echo instance with every route registered.  Global
// middleware is left to the caller.
func New(info *handler.InfoHandler, items *handler.ItemHandler, m ...echo.MiddlewareFunc) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	RegisterRoutes(e, info)
	RegisterItems(e, items, m...)
	return e
}
