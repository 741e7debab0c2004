package middleware // middleware provides shared request processing for handlers

import (
    "net/http"

    "github.com/labstack/echo/v4"
    "go.uber.org/zap"
)

// RequireRole aborts with 403 unless the role stored by JWTAuth is one of
// roles.  It must be registered after JWTAuth.
func RequireRole(roles ...string) echo.MiddlewareFunc {
    allowed := make(map[string]bool, len(roles))
    for _, r := range roles {
        allowed[r] = true
    }
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            role := Role(c)
            if !allowed[role] {
                zap.L().Debug("role check failed",
                    zap.String("role", role),
                    zap.String("user", userKey(c)),
                    zap.String("route", c.Path()))
                return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
            }
            return next(c)
        }
    }
}
