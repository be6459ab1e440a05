package middleware

import (
    "net/http"

    "github.com/google/uuid"
    "github.com/labstack/echo/v4"
    echomw "github.com/labstack/echo/v4/middleware"
)

// CORS allows any origin, method and header with credentials.  Because
// browsers refuse "*" together with credentials, the request origin and
// requested headers are reflected back instead.  Only suitable for a demo
// deployment.
func CORS() echo.MiddlewareFunc {
    return echomw.CORSWithConfig(echomw.CORSConfig{
        AllowOrigins:     []string{"*"},
        AllowMethods: []string{
            http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
            http.MethodPatch, http.MethodDelete, http.MethodOptions,
        },
        AllowCredentials: true,

        UnsafeWildcardOriginWithAllowCredentials: true,
    })
}

// RequestID tags every request with a UUID in X-Request-Id unless the
// client already sent one.
func RequestID() echo.MiddlewareFunc {
    return echomw.RequestIDWithConfig(echomw.RequestIDConfig{
        Generator: uuid.NewString,
    })
}
