package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/auction-house/internal/auction"
	"github.com/iliyamo/auction-house/internal/repository"
)

// AdminHandler holds settlement and token operations reserved for ADMIN.
type AdminHandler struct {
	Resolver *auction.Resolver
	Profiles *repository.ProfileRepo
	now      func() time.Time
}

func NewAdminHandler(r *auction.Resolver, p *repository.ProfileRepo) *AdminHandler {
	return &AdminHandler{Resolver: r, Profiles: p, now: time.Now}
}

type confirmPaymentReq struct {
	BidID uint64 `json:"bid_id"`
}

type grantTokensReq struct {
	Amount    int64  `json:"amount"`
	Reference string `json:"reference"`
}

// Resolve handles POST /v1/admin/auctions/:id/resolve and returns the
// resolution as is.
func (h *AdminHandler) Resolve(c echo.Context) error {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return badRequest(c, "invalid auction id")
	}
	ctx, cancel := requestCtx(c)
	defer cancel()

	res, err := h.Resolver.Resolve(ctx, id)
	if err != nil {
		return settlementError(c, id, err)
	}
	return c.JSON(http.StatusOK, res)
}

// ConfirmPayment handles POST /v1/admin/auctions/:id/paid.  Only the
// current candidate's bid can be marked paid, and only inside its window.
func (h *AdminHandler) ConfirmPayment(c echo.Context) error {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return badRequest(c, "invalid auction id")
	}
	var req confirmPaymentReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	if req.BidID == 0 {
		return badRequest(c, "bid_id required")
	}
	ctx, cancel := requestCtx(c)
	defer cancel()

	res, err := h.Resolver.ConfirmPayment(ctx, id, req.BidID)
	if err != nil {
		return settlementError(c, id, err)
	}
	return c.JSON(http.StatusOK, res)
}

func settlementError(c echo.Context, auctionID uint64, err error) error {
	switch {
	case errors.Is(err, auction.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "auction not found"})
	case errors.Is(err, auction.ErrAlreadyPaid), errors.Is(err, auction.ErrNotCurrentCandidate):
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})
	case errors.Is(err, repository.ErrConcurrentModification):
		return c.JSON(http.StatusConflict, echo.Map{"error": "settlement changed concurrently, please retry"})
	}
	zap.L().Error("settlement failed", zap.Uint64("auction_id", auctionID), zap.Error(err))
	return internalError(c, "settlement failed")
}

// GrantTokens handles POST /v1/admin/profiles/:id/tokens.
func (h *AdminHandler) GrantTokens(c echo.Context) error {
	adminID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return badRequest(c, "invalid profile id")
	}
	var req grantTokensReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	if req.Amount <= 0 {
		return badRequest(c, "amount must be positive")
	}
	ref := strings.TrimSpace(req.Reference)
	if ref == "" {
		ref = "admin:" + strconv.FormatUint(adminID, 10)
	}

	ctx, cancel := requestCtx(c)
	defer cancel()
	bal, err := h.Profiles.GrantTokens(ctx, id, req.Amount, ref, h.now().UTC())
	if err != nil {
		if errors.Is(err, repository.ErrProfileNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "profile not found"})
		}
		zap.L().Error("grant tokens failed", zap.Uint64("profile_id", id), zap.Error(err))
		return internalError(c, "grant tokens failed")
	}
	zap.L().Info("tokens granted",
		zap.Uint64("profile_id", id),
		zap.Uint64("admin_id", adminID),
		zap.Int64("amount", req.Amount))
	return c.JSON(http.StatusOK, echo.Map{"profile_id": id, "token_balance": bal})
}
