package handler // declare the package name; contains HTTP handlers

import (
	"context"
	"database/sql"
	"net/http" // net/http provides status codes and response helpers
	"time"

	"github.com/labstack/echo/v4" // echo is the web framework used for this project
	"github.com/redis/go-redis/v9"
)

// HealthHandler reports liveness of the service and its backing stores.
type HealthHandler struct {
	DB  *sql.DB
	RDB *redis.Client // optional
}

// Health returns 200 with per-dependency status when the database answers
// a ping, 503 otherwise.  Redis is optional and only reported.
func (h *HealthHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	body := echo.Map{"status": "ok", "database": "ok", "redis": "disabled"}
	code := http.StatusOK
	if err := h.DB.PingContext(ctx); err != nil {
		body["status"], body["database"] = "degraded", "down"
		code = http.StatusServiceUnavailable
	}
	if h.RDB != nil {
		body["redis"] = "ok"
		if err := h.RDB.Ping(ctx).Err(); err != nil {
			body["redis"] = "down"
		}
	}
	return c.JSON(code, body)
}
