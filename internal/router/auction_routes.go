package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/auction-house/internal/handler"
	"github.com/iliyamo/auction-house/internal/middleware"
	"github.com/iliyamo/auction-house/internal/model"
)

var allRoles = []string{model.RoleBidder, model.RoleSeller, model.RoleAdmin}

// AuctionRoutes carries the middleware the auction routes are wrapped in.
// Each may be a pass-through when Redis is not configured.
type AuctionRoutes struct {
	JWTSecret string
	BidLimit  echo.MiddlewareFunc // per-user bucket on POST /v1/bids
	Cache     echo.MiddlewareFunc // response cache on bid history
}

// RegisterAuctions registers public auction reads and the authenticated
// bidding, selling and watching endpoints.
func RegisterAuctions(e *echo.Echo, a *handler.AuctionHandler, b *handler.BidHandler, opts AuctionRoutes) {
	opts.BidLimit = orPass(opts.BidLimit)
	opts.Cache = orPass(opts.Cache)

	e.GET("/v1/auctions", a.Search)
	e.GET("/v1/auctions/:id", a.Get)
	e.GET("/v1/auctions/:id/bids", a.ListBids, opts.Cache)

	auth := middleware.JWTAuth(opts.JWTSecret)

	// Admins may bid from their own profile; sellers may bid on others'
	// auctions.
	e.POST("/v1/bids", b.PlaceBid, auth, middleware.RequireRole(allRoles...), opts.BidLimit)

	e.POST("/v1/auctions", a.Create, auth, middleware.RequireRole(model.RoleSeller, model.RoleAdmin))

	w := e.Group("/v1/auctions/:id/watch", auth, middleware.RequireRole(allRoles...))
	w.POST("", a.Watch)
	w.DELETE("", a.Unwatch)
}

func orPass(m echo.MiddlewareFunc) echo.MiddlewareFunc {
	if m != nil {
		return m
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
}
