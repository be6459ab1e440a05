package handler // declare the package name; contains HTTP handlers

import (
    "net/http"
    "runtime"
    "time"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/echo-cicd-demo/internal/config"
)

// InfoHandler serves the endpoints that describe the running service.
// None of them touch the item store.
type InfoHandler struct {
    AppName string
    Version string
    Env     string

    now func() time.Time // clock; replaced in tests
}

// NewInfoHandler builds an InfoHandler from the loaded configuration.
func NewInfoHandler(cfg config.Config) *InfoHandler {
    return &InfoHandler{AppName: cfg.AppName, Version: cfg.Version, Env: cfg.Env, now: time.Now}
}

// timestamp renders the current time as ISO-8601.
func (h *InfoHandler) timestamp() string {
    now := time.Now
    if h.now != nil {
        now = h.now
    }
    return now().Format(time.RFC3339Nano)
}

// MessageResponse is the body of GET /.
type MessageResponse struct {
    Message     string `json:"message"`
    Timestamp   string `json:"timestamp"`
    Environment string `json:"environment"`
}

// Welcome handles GET / and greets the caller.
func (h *InfoHandler) Welcome(c echo.Context) error {
    return c.JSON(http.StatusOK, MessageResponse{
        Message:     "欢迎使用 " + h.AppName + "! 访问 /api/info 查看应用信息",
        Timestamp:   h.timestamp(),
        Environment: h.Env,
    })
}

// Health is the liveness probe used by the pipeline and container
// orchestrators.  It always answers 200 while the process is up.
func (h *InfoHandler) Health(c echo.Context) error {
    return c.JSON(http.StatusOK, map[string]string{
        "status":      "healthy",
        "timestamp":   h.timestamp(),
        "version":     h.Version,
        "environment": h.Env,
    })
}

// Info handles GET /api/info.  python_version is kept for clients of the
// earlier deployment and carries the Go runtime version, as does
// go_version.
func (h *InfoHandler) Info(c echo.Context) error {
    return c.JSON(http.StatusOK, map[string]string{
        "app_name":       h.AppName,
        "version":        h.Version,
        "python_version": runtime.Version(),
        "go_version":     runtime.Version(),
        "environment":    h.Env,
        "timestamp":      h.timestamp(),
    })
}
