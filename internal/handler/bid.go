package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iliyamo/auction-house/internal/auction"
	"github.com/iliyamo/auction-house/internal/config"
	"github.com/iliyamo/auction-house/internal/middleware"
	"github.com/iliyamo/auction-house/internal/repository"
)

// BidHandler exposes bid placement.
type BidHandler struct {
	Bids  *auction.BidService
	Cache config.CacheConfig
	RDB   *redis.Client // optional; used to drop cached bid history
}

func NewBidHandler(bids *auction.BidService, cache config.CacheConfig, rdb *redis.Client) *BidHandler {
	return &BidHandler{Bids: bids, Cache: cache, RDB: rdb}
}

type placeBidReq struct {
	AuctionID uint64  `json:"auction_id"`
	Amount    float64 `json:"amount"`
}

// PlaceBid handles POST /v1/bids.  The bidder is always the token
// subject; the body only names the auction and the amount.
func (h *BidHandler) PlaceBid(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var req placeBidReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	if req.AuctionID == 0 {
		return badRequest(c, "auction_id required")
	}

	ctx, cancel := requestCtx(c)
	defer cancel()

	_, err = h.Bids.PlaceBid(ctx, auction.PlaceBidInput{
		AuctionID: req.AuctionID,
		BidderID:  uid,
		Amount:    req.Amount,
	})
	if err != nil {
		code, body := bidError(err)
		if code == http.StatusInternalServerError {
			zap.L().Error("place bid failed", zap.Uint64("auction_id", req.AuctionID), zap.Error(err))
		}
		return c.JSON(code, body)
	}

	middleware.InvalidatePath(context.WithoutCancel(ctx), h.Cache, h.RDB,
		fmt.Sprintf("/v1/auctions/%d/bids", req.AuctionID))
	return c.JSON(http.StatusOK, echo.Map{"success": true})
}

// bidError maps an admission failure to a status code and JSON body.
func bidError(err error) (int, echo.Map) {
	var rej *auction.Rejection
	if errors.As(err, &rej) {
		body := echo.Map{"error": rej.Message, "code": string(rej.Kind)}
		if rej.Threshold != nil {
			body["threshold"] = rej.Threshold.String()
		}
		switch rej.Kind {
		case auction.KindUnauthorized:
			return http.StatusUnauthorized, body
		case auction.KindNotFound:
			return http.StatusNotFound, body
		case auction.KindInsufficientTokens:
			return http.StatusPaymentRequired, body
		case auction.KindConsecutiveBid:
			return http.StatusConflict, body
		default:
			return http.StatusBadRequest, body
		}
	}
	if errors.Is(err, repository.ErrConcurrentModification) {
		return http.StatusConflict, echo.Map{"error": "auction changed while bidding, please retry"}
	}
	return http.StatusInternalServerError, echo.Map{"error": "place bid failed"}
}
