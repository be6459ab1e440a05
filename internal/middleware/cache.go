package middleware

import (
    "bytes"
    "context"
    "crypto/sha1"
    "encoding/binary"
    "encoding/json"
    "errors"
    "fmt"
    "net/http"
    "strings"
    "time"

    "github.com/labstack/echo/v4"
    "github.com/labstack/gommon/log"
    "github.com/redis/go-redis/v9"

    "github.com/iliyamo/echo-cicd-demo/internal/config"
)

// captureWriter captures response body/status while forwarding to the client.
type captureWriter struct {
    http.ResponseWriter
    status int
    buf    bytes.Buffer
    size   int64
    limit  int64
}

func (cw *captureWriter) WriteHeader(code int) { cw.status = code; cw.ResponseWriter.WriteHeader(code) }
func (cw *captureWriter) Write(b []byte) (int, error) {
    if cw.limit <= 0 || cw.size < cw.limit {
        remain := cw.limit - cw.size
        if cw.limit <= 0 {
            cw.buf.Write(b)
        } else if remain > 0 {
            if int64(len(b)) <= remain {
                cw.buf.Write(b)
            } else {
                cw.buf.Write(b[:remain])
            }
        }
    }
    cw.size += int64(len(b))
    return cw.ResponseWriter.Write(b)
}

// truncated reports whether the body exceeded the capture limit.
func (cw *captureWriter) truncated() bool { return cw.limit > 0 && cw.size > cw.limit }

// cacheKeyFrom builds a stable key from the concrete request path, so
// /api/items/1 and /api/items/2 never share an entry.  gen is the cache
// generation the request observed before reaching the handler.
func cacheKeyFrom(prefix string, gen int64, r *http.Request) string {
    tail := strings.Join([]string{"method", r.Method, "path", r.URL.Path, "q", r.URL.RawQuery}, ":")
    sum := sha1.Sum([]byte(tail))
    return fmt.Sprintf("%s:%d:%x", prefix, gen, sum[:])
}

// genKey names the counter bumped by every successful write.  Entries
// stored under an older generation are never read again and expire by TTL.
func genKey(prefix string) string { return prefix + ":gen" }

// perRequestHeader reports headers that describe the current exchange
// rather than the resource, so they are neither stored nor replayed.
func perRequestHeader(k string) bool {
    k = http.CanonicalHeaderKey(k)
    switch k {
    case echo.HeaderContentLength, echo.HeaderXRequestID, echo.HeaderVary, "X-Cache":
        return true
    }
    return strings.HasPrefix(k, "Access-Control-")
}

// encodePayload packs: [4 bytes status][4 bytes headerLen][headerJSON][body]
func encodePayload(status int, header http.Header, body []byte) ([]byte, error) {
    hdrJSON, err := json.Marshal(header)
    if err != nil {
        return nil, err
    }
    total := 4 + 4 + len(hdrJSON) + len(body)
    out := make([]byte, total)
    binary.BigEndian.PutUint32(out[0:4], uint32(status))
    binary.BigEndian.PutUint32(out[4:8], uint32(len(hdrJSON)))
    copy(out[8:8+len(hdrJSON)], hdrJSON)
    copy(out[8+len(hdrJSON):], body)
    return out, nil
}

func decodePayload(bs []byte) (status int, header http.Header, body []byte, ok bool) {
    if len(bs) < 8 {
        return 0, nil, nil, false
    }
    status = int(binary.BigEndian.Uint32(bs[0:4]))
    hlen := int(binary.BigEndian.Uint32(bs[4:8]))
    if hlen < 0 || 8+hlen > len(bs) {
        return 0, nil, nil, false
    }
    var hdr http.Header
    if hlen > 0 {
        if err := json.Unmarshal(bs[8:8+hlen], &hdr); err != nil {
            return 0, nil, nil, false
        }
    } else {
        hdr = make(http.Header)
    }
    body = bs[8+hlen:]
    return status, hdr, body, true
}

// NewRedisCache caches successful responses of the configured methods in
// Redis.  A successful request of any other method bumps the cache
// generation before its response is committed, so a read that completes
// after a write never returns the replaced or deleted item, even when a
// slower read stores an older body.  With caching disabled or rdb nil it
// is a no-op.
func NewRedisCache(cfg config.CacheConfig, rdb *redis.Client) echo.MiddlewareFunc {
    if !cfg.Enabled || rdb == nil {
        return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
    }
    ttl := cfg.TTL
    if ttl <= 0 {
        ttl = 30 * time.Second
    }
    maxBody := int64(cfg.MaxBodyBytes)

    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            req := c.Request()
            if !cfg.Methods[strings.ToUpper(req.Method)] {
                res := c.Response()
                res.Before(func() {
                    if res.Status >= 200 && res.Status < 300 {
                        invalidate(req.Context(), rdb, cfg.Prefix)
                    }
                })
                return next(c)
            }

            gen, err := rdb.Get(req.Context(), genKey(cfg.Prefix)).Int64()
            if err != nil && !errors.Is(err, redis.Nil) {
                log.Warnf("cache: read generation failed: %v", err)
                return next(c)
            }
            key := cacheKeyFrom(cfg.Prefix, gen, req)

            if bs, err := rdb.Get(req.Context(), key).Bytes(); err == nil {
                if status, hdr, body, ok := decodePayload(bs); ok {
                    for k, vals := range hdr {
                        if perRequestHeader(k) {
                            continue
                        }
                        for _, v := range vals {
                            c.Response().Header().Add(k, v)
                        }
                    }
                    c.Response().Header().Set("X-Cache", "HIT")
                    c.Response().WriteHeader(status)
                    if len(body) > 0 {
                        _, _ = c.Response().Write(body)
                    }
                    return nil
                }
            }

            cw := &captureWriter{ResponseWriter: c.Response().Writer, status: http.StatusOK, limit: maxBody}
            c.Response().Writer = cw
            c.Response().Header().Set("X-Cache", "MISS")

            if err := next(c); err != nil {
                return err
            }

            if cw.status != http.StatusOK || cw.truncated() {
                return nil
            }
            hdr := make(http.Header, len(c.Response().Header()))
            for k, vals := range c.Response().Header() {
                if !perRequestHeader(k) {
                    hdr[k] = append([]string(nil), vals...)
                }
            }
            payload, err := encodePayload(cw.status, hdr, cw.buf.Bytes())
            if err != nil {
                return nil
            }
            if err := rdb.SetEx(context.WithoutCancel(req.Context()), key, payload, ttl).Err(); err != nil {
                log.Warnf("cache: store %s failed: %v", req.URL.Path, err)
            }
            return nil
        }
    }
}

// invalidate moves the prefix to a new generation.
func invalidate(ctx context.Context, rdb *redis.Client, prefix string) {
    if err := rdb.Incr(context.WithoutCancel(ctx), genKey(prefix)).Err(); err != nil {
        log.Warnf("cache: invalidate failed: %v", err)
    }
}
