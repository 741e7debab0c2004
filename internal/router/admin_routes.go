package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/auction-house/internal/handler"
	"github.com/iliyamo/auction-house/internal/middleware"
	"github.com/iliyamo/auction-house/internal/model"
)

// RegisterAdmin registers settlement and token management endpoints under
// /v1/admin.  All routes require the ADMIN role.
func RegisterAdmin(e *echo.Echo, h *handler.AdminHandler, jwtSecret string) {
	g := e.Group(
		"/v1/admin",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(model.RoleAdmin),
	)
	g.POST("/auctions/:id/resolve", h.Resolve)
	g.POST("/auctions/:id/paid", h.ConfirmPayment)
	g.POST("/profiles/:id/tokens", h.GrantTokens)
}
