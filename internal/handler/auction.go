package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/iliyamo/auction-house/internal/auction"
	"github.com/iliyamo/auction-house/internal/model"
	"github.com/iliyamo/auction-house/internal/repository"
)

const (
	defaultBidPage = 50
	maxBidPage     = 200
)

// AuctionHandler serves auction creation, detail, bid history and
// watcher registration.
type AuctionHandler struct {
	Auctions *repository.AuctionRepo
	Bids     *repository.BidRepo
	Watchers *repository.WatcherRepo
	Resolver *auction.Resolver
	now      func() time.Time
}

func NewAuctionHandler(a *repository.AuctionRepo, b *repository.BidRepo, w *repository.WatcherRepo, r *auction.Resolver) *AuctionHandler {
	return &AuctionHandler{Auctions: a, Bids: b, Watchers: w, Resolver: r, now: time.Now}
}

type createAuctionReq struct {
	Title         string              `json:"title"`
	StartsAt      *time.Time          `json:"starts_at"`
	EndsAt        *time.Time          `json:"ends_at"`
	StartingPrice decimal.Decimal     `json:"starting_price"`
	ReservePrice  decimal.NullDecimal `json:"reserve_price"`
	MinIncrement  decimal.Decimal     `json:"min_increment"`
	MaxIncrement  decimal.NullDecimal `json:"max_increment"`
}

// validate normalizes the request and returns a user-facing message when
// it cannot describe a valid auction.
func (r *createAuctionReq) validate(now time.Time) string {
	r.Title = strings.TrimSpace(r.Title)
	if r.Title == "" {
		return "title required"
	}
	if r.EndsAt == nil {
		return "ends_at required"
	}
	end := r.EndsAt.UTC()
	r.EndsAt = &end
	if !end.After(now) {
		return "ends_at must be in the future"
	}
	if r.StartsAt != nil {
		start := r.StartsAt.UTC()
		r.StartsAt = &start
		if !end.After(start) {
			return "ends_at must be after starts_at"
		}
	}
	if r.StartingPrice.IsNegative() {
		return "starting_price must not be negative"
	}
	if r.MinIncrement.IsZero() {
		r.MinIncrement = decimal.NewFromInt(1)
	}
	if !r.MinIncrement.IsPositive() {
		return "min_increment must be positive"
	}
	if r.ReservePrice.Valid && r.ReservePrice.Decimal.IsNegative() {
		return "reserve_price must not be negative"
	}
	if r.MaxIncrement.Valid && r.MaxIncrement.Decimal.LessThan(r.MinIncrement) {
		return "max_increment must not be below min_increment"
	}
	money := []struct {
		name string
		v    decimal.NullDecimal
	}{
		{"starting_price", decimal.NewNullDecimal(r.StartingPrice)},
		{"min_increment", decimal.NewNullDecimal(r.MinIncrement)},
		{"reserve_price", r.ReservePrice},
		{"max_increment", r.MaxIncrement},
	}
	for _, m := range money {
		if m.v.Valid && !auction.HasMoneyPrecision(m.v.Decimal) {
			return m.name + " must not have more than two decimal places"
		}
	}
	return ""
}

// Create handles POST /v1/auctions for sellers.
func (h *AuctionHandler) Create(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var req createAuctionReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	now := h.now().UTC()
	if msg := req.validate(now); msg != "" {
		return badRequest(c, msg)
	}

	a := model.Auction{
		SellerID:      uid,
		Title:         req.Title,
		StartsAt:      req.StartsAt,
		EndsAt:        req.EndsAt,
		StartingPrice: req.StartingPrice,
		CurrentPrice:  req.StartingPrice,
		ReservePrice:  req.ReservePrice,
		MinIncrement:  req.MinIncrement,
		MaxIncrement:  req.MaxIncrement,
		Status:        auction.InitialStatus(req.StartsAt, now),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	ctx, cancel := requestCtx(c)
	defer cancel()
	if err := h.Auctions.Create(ctx, &a); err != nil {
		zap.L().Error("create auction failed", zap.Error(err))
		return internalError(c, "create auction failed")
	}
	return c.JSON(http.StatusCreated, a)
}

// Search handles GET /v1/auctions.
// time: "open" (default), "upcoming", "closed" or "any".
func (h *AuctionHandler) Search(c echo.Context) error {
	timeFilter := strings.ToLower(strings.TrimSpace(c.QueryParam("time")))
	switch timeFilter {
	case "", "open", "upcoming", "closed", "any":
	default:
		return badRequest(c, "time must be one of open, upcoming, closed, any")
	}

	page, _ := strconv.Atoi(c.QueryParam("page"))
	if page < 1 {
		page = 1
	}
	ps, _ := strconv.Atoi(c.QueryParam("page_size"))
	if ps < 1 {
		ps = 20
	}
	if ps > 100 {
		ps = 100
	}
	var seller uint64
	if raw := c.QueryParam("seller_id"); raw != "" {
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return badRequest(c, "invalid seller_id")
		}
		seller = n
	}

	ctx, cancel := requestCtx(c)
	defer cancel()
	items, total, err := h.Auctions.Search(ctx, repository.AuctionSearchQuery{
		Title:    strings.TrimSpace(c.QueryParam("title")),
		SellerID: seller,
		Time:     timeFilter,
		Page:     page,
		PageSize: ps,
	}, h.now().UTC())
	if err != nil {
		zap.L().Error("search auctions failed", zap.Error(err))
		return internalError(c, "database_error")
	}
	return c.JSON(http.StatusOK, echo.Map{
		"data":      items,
		"total":     total,
		"page":      page,
		"page_size": ps,
	})
}

type auctionResp struct {
	Auction    model.Auction       `json:"auction"`
	Settlement *auction.Resolution `json:"settlement,omitempty"`
}

// Get handles GET /v1/auctions/:id.  Viewing an ended auction runs the
// settlement resolver so a lapsed payment window advances on read.
func (h *AuctionHandler) Get(c echo.Context) error {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return badRequest(c, "invalid auction id")
	}
	ctx, cancel := requestCtx(c)
	defer cancel()

	res, err := h.Resolver.Resolve(ctx, id)
	if err != nil {
		if errors.Is(err, auction.ErrNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "auction not found"})
		}
		zap.L().Error("resolve auction failed", zap.Uint64("auction_id", id), zap.Error(err))
		return internalError(c, "load auction failed")
	}
	if res.Reason == auction.ReasonNotEnded {
		a := res.Auction
		a.Status = auction.Reconcile(a, h.now().UTC())
		return c.JSON(http.StatusOK, auctionResp{Auction: a})
	}
	return c.JSON(http.StatusOK, auctionResp{Auction: res.Auction, Settlement: &res})
}

// ListBids handles GET /v1/auctions/:id/bids?limit=N, newest first.
func (h *AuctionHandler) ListBids(c echo.Context) error {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return badRequest(c, "invalid auction id")
	}
	limit := defaultBidPage
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return badRequest(c, "invalid limit")
		}
		if n > maxBidPage {
			n = maxBidPage
		}
		limit = n
	}

	ctx, cancel := requestCtx(c)
	defer cancel()
	if _, err := h.Auctions.GetByID(ctx, id); err != nil {
		if errors.Is(err, repository.ErrAuctionNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "auction not found"})
		}
		return internalError(c, "query failed")
	}
	bids, err := h.Bids.ListByAuction(ctx, id, limit)
	if err != nil {
		return internalError(c, "query failed")
	}
	return c.JSON(http.StatusOK, echo.Map{"auction_id": id, "bids": bids})
}

// Watch handles POST /v1/auctions/:id/watch.
func (h *AuctionHandler) Watch(c echo.Context) error {
	return h.watch(c, true)
}

// Unwatch handles DELETE /v1/auctions/:id/watch.
func (h *AuctionHandler) Unwatch(c echo.Context) error {
	return h.watch(c, false)
}

func (h *AuctionHandler) watch(c echo.Context, on bool) error {
	uid, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return badRequest(c, "invalid auction id")
	}
	ctx, cancel := requestCtx(c)
	defer cancel()

	if _, err := h.Auctions.GetByID(ctx, id); err != nil {
		if errors.Is(err, repository.ErrAuctionNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "auction not found"})
		}
		return internalError(c, "query failed")
	}
	if on {
		err = h.Watchers.Watch(ctx, id, uid, h.now().UTC())
	} else {
		err = h.Watchers.Unwatch(ctx, id, uid)
	}
	if err != nil {
		return internalError(c, "update watchers failed")
	}
	return c.JSON(http.StatusOK, echo.Map{"auction_id": id, "watching": on})
}
