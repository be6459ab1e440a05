package middleware

import (
    "github.com/labstack/echo/v4"
    echomw "github.com/labstack/echo/v4/middleware"
    "github.com/labstack/gommon/log"
)

// AccessLog writes one line per request through the gommon logger.
// Server errors are logged at error level, everything else at info.
func AccessLog(logger *log.Logger) echo.MiddlewareFunc {
    return echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
        LogMethod:    true,
        LogURI:       true,
        LogStatus:    true,
        LogLatency:   true,
        LogRemoteIP:  true,
        LogRequestID: true,
        LogError:     true,
        HandleError:  true,
        LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
            if v.Status >= 500 {
                logger.Errorf("%s %s status=%d latency=%s ip=%s request_id=%s err=%v",
                    v.Method, v.URI, v.Status, v.Latency, v.RemoteIP, v.RequestID, v.Error)
                return nil
            }
            logger.Infof("%s %s status=%d latency=%s ip=%s request_id=%s",
                v.Method, v.URI, v.Status, v.Latency, v.RemoteIP, v.RequestID)
            return nil
        },
    })
}
