package middleware

import (
    "net/http"
    "net/http/httptest"
    "strings"
    "sync"
    "testing"
    "time"

    "github.com/alicebob/miniredis/v2"
    "github.com/labstack/echo/v4"
    "github.com/redis/go-redis/v9"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/iliyamo/echo-cicd-demo/internal/config"
)

// nameServer is a tiny item API whose reads can run a hook between
// loading a value and writing the response.
type nameServer struct {
    mu     sync.Mutex
    names  map[string]string
    onRead func()
}

func (s *nameServer) get(c echo.Context) error {
    s.mu.Lock()
    name, ok := s.names[c.Param("id")]
    hook := s.onRead
    s.onRead = nil
    s.mu.Unlock()
    if hook != nil {
        hook()
    }
    if !ok {
        return c.JSON(http.StatusNotFound, map[string]string{"detail": "not found"})
    }
    return c.JSON(http.StatusOK, map[string]string{"name": name})
}

func (s *nameServer) put(c echo.Context) error {
    var body struct {
        Name string `json:"name"`
    }
    if err := c.Bind(&body); err != nil {
        return err
    }
    s.mu.Lock()
    defer s.mu.Unlock()
    if _, ok := s.names[c.Param("id")]; !ok {
        return c.JSON(http.StatusNotFound, map[string]string{"detail": "not found"})
    }
    s.names[c.Param("id")] = body.Name
    return c.JSON(http.StatusOK, map[string]string{"name": body.Name})
}

func newCachedServer(t *testing.T, cfg config.CacheConfig) (*echo.Echo, *nameServer, *miniredis.Miniredis) {
    t.Helper()
    mr := miniredis.RunT(t)
    rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
    t.Cleanup(func() { _ = rdb.Close() })

    s := &nameServer{names: map[string]string{"1": "old", "big": strings.Repeat("x", 64)}}
    e := echo.New()
    e.Use(CORS())
    g := e.Group("/api/items", NewRedisCache(cfg, rdb))
    g.GET("/:id", s.get)
    g.PUT("/:id", s.put)
    return e, s, mr
}

func cacheConfig() config.CacheConfig {
    return config.CacheConfig{
        Enabled:      true,
        Methods:      map[string]bool{http.MethodGet: true},
        TTL:          time.Minute,
        Prefix:       "test-cache",
        MaxBodyBytes: 1 << 20,
    }
}

func send(e *echo.Echo, method, target, body, origin string) *httptest.ResponseRecorder {
    req := httptest.NewRequest(method, target, strings.NewReader(body))
    if body != "" {
        req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
    }
    if origin != "" {
        req.Header.Set(echo.HeaderOrigin, origin)
    }
    rec := httptest.NewRecorder()
    e.ServeHTTP(rec, req)
    return rec
}

func TestNewRedisCache(t *testing.T) {
    type step struct {
        method     string
        target     string
        body       string
        wantStatus int
        wantCache  string
        wantName   string
    }
    get := func(target string, status int, cache, name string) step {
        return step{method: http.MethodGet, target: target, wantStatus: status, wantCache: cache, wantName: name}
    }
    put := func(target, name string, status int) step {
        return step{method: http.MethodPut, target: target, body: `{"name":"` + name + `"}`, wantStatus: status}
    }

    testCases := []struct {
        name    string
        maxBody int
        steps   []step
    }{
        {
            name: "second read is served from redis",
            steps: []step{
                get("/api/items/1", http.StatusOK, "MISS", "old"),
                get("/api/items/1", http.StatusOK, "HIT", "old"),
            },
        },
        {
            name: "non-200 responses are not stored",
            steps: []step{
                get("/api/items/9", http.StatusNotFound, "MISS", ""),
                get("/api/items/9", http.StatusNotFound, "MISS", ""),
            },
        },
        {
            name: "successful write clears cached reads",
            steps: []step{
                get("/api/items/1", http.StatusOK, "MISS", "old"),
                put("/api/items/1", "new", http.StatusOK),
                get("/api/items/1", http.StatusOK, "MISS", "new"),
                get("/api/items/1", http.StatusOK, "HIT", "new"),
            },
        },
        {
            name: "failed write keeps cached reads",
            steps: []step{
                get("/api/items/1", http.StatusOK, "MISS", "old"),
                put("/api/items/9", "new", http.StatusNotFound),
                get("/api/items/1", http.StatusOK, "HIT", "old"),
            },
        },
        {
            name:    "bodies over the limit are not stored",
            maxBody: 16,
            steps: []step{
                get("/api/items/big", http.StatusOK, "MISS", strings.Repeat("x", 64)),
                get("/api/items/big", http.StatusOK, "MISS", strings.Repeat("x", 64)),
            },
        },
        {
            name: "query string is part of the key",
            steps: []step{
                get("/api/items/1?v=1", http.StatusOK, "MISS", "old"),
                get("/api/items/1?v=2", http.StatusOK, "MISS", "old"),
                get("/api/items/1?v=1", http.StatusOK, "HIT", "old"),
            },
        },
    }

    for _, tc := range testCases {
        t.Run(tc.name, func(t *testing.T) {
            cfg := cacheConfig()
            if tc.maxBody > 0 {
                cfg.MaxBodyBytes = tc.maxBody
            }
            e, _, _ := newCachedServer(t, cfg)

            for i, st := range tc.steps {
                rec := send(e, st.method, st.target, st.body, "")
                require.Equal(t, st.wantStatus, rec.Code, "step %d", i)
                assert.Equal(t, st.wantCache, rec.Header().Get("X-Cache"), "step %d", i)
                if st.wantName != "" {
                    assert.JSONEq(t, `{"name":"`+st.wantName+`"}`, rec.Body.String(), "step %d", i)
                }
            }
        })
    }
}

func TestNewRedisCacheEntriesExpire(t *testing.T) {
    e, _, mr := newCachedServer(t, cacheConfig())

    require.Equal(t, "MISS", send(e, http.MethodGet, "/api/items/1", "", "").Header().Get("X-Cache"))
    require.Equal(t, "HIT", send(e, http.MethodGet, "/api/items/1", "", "").Header().Get("X-Cache"))

    mr.FastForward(2 * time.Minute)

    assert.Equal(t, "MISS", send(e, http.MethodGet, "/api/items/1", "", "").Header().Get("X-Cache"))
}

func TestNewRedisCacheSlowReadAfterWriteIsNotServed(t *testing.T) {
    e, s, _ := newCachedServer(t, cacheConfig())

    // The read loads "old", then a write lands before the read stores its body.
    s.onRead = func() {
        rec := send(e, http.MethodPut, "/api/items/1", `{"name":"new"}`, "")
        require.Equal(t, http.StatusOK, rec.Code)
    }
    rec := send(e, http.MethodGet, "/api/items/1", "", "")
    require.Equal(t, http.StatusOK, rec.Code)
    assert.JSONEq(t, `{"name":"old"}`, rec.Body.String())

    rec = send(e, http.MethodGet, "/api/items/1", "", "")
    assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))
    assert.JSONEq(t, `{"name":"new"}`, rec.Body.String())

    rec = send(e, http.MethodGet, "/api/items/1", "", "")
    assert.Equal(t, "HIT", rec.Header().Get("X-Cache"))
    assert.JSONEq(t, `{"name":"new"}`, rec.Body.String())
}

func TestNewRedisCacheHitKeepsCurrentCORSHeaders(t *testing.T) {
    e, _, _ := newCachedServer(t, cacheConfig())

    rec := send(e, http.MethodGet, "/api/items/1", "", "https://a.example")
    require.Equal(t, "MISS", rec.Header().Get("X-Cache"))
    require.Equal(t, []string{"https://a.example"}, rec.Header().Values(echo.HeaderAccessControlAllowOrigin))

    rec = send(e, http.MethodGet, "/api/items/1", "", "https://b.example")
    require.Equal(t, "HIT", rec.Header().Get("X-Cache"))
    assert.Equal(t, []string{"https://b.example"}, rec.Header().Values(echo.HeaderAccessControlAllowOrigin))
    assert.Equal(t, []string{"true"}, rec.Header().Values(echo.HeaderAccessControlAllowCredentials))
    assert.Equal(t, []string{echo.HeaderOrigin}, rec.Header().Values(echo.HeaderVary))
    assert.Len(t, rec.Header().Values(echo.HeaderContentType), 1)
}

func TestNewRedisCacheRedisDownPassesThrough(t *testing.T) {
    e, _, mr := newCachedServer(t, cacheConfig())
    mr.Close()

    rec := send(e, http.MethodGet, "/api/items/1", "", "")
    assert.Equal(t, http.StatusOK, rec.Code)
    assert.JSONEq(t, `{"name":"old"}`, rec.Body.String())
    assert.Empty(t, rec.Header().Get("X-Cache"))
}

func TestCacheKeyFrom(t *testing.T) {
    a := cacheKeyFrom("p", 0, httptest.NewRequest(http.MethodGet, "/api/items/1", nil))
    b := cacheKeyFrom("p", 0, httptest.NewRequest(http.MethodGet, "/api/items/2", nil))
    a2 := cacheKeyFrom("p", 0, httptest.NewRequest(http.MethodGet, "/api/items/1", nil))
    next := cacheKeyFrom("p", 1, httptest.NewRequest(http.MethodGet, "/api/items/1", nil))

    assert.NotEqual(t, a, b)
    assert.Equal(t, a, a2)
    assert.NotEqual(t, a, next)
    assert.True(t, strings.HasPrefix(a, "p:0:"))
}

func TestPerRequestHeader(t *testing.T) {
    for _, k := range []string{"Access-Control-Allow-Origin", "access-control-allow-credentials", "Vary", "X-Request-Id", "Content-Length", "X-Cache"} {
        assert.True(t, perRequestHeader(k), k)
    }
    assert.False(t, perRequestHeader("Content-Type"))
}

func TestPayloadRoundTrip(t *testing.T) {
    hdr := http.Header{"Content-Type": []string{"application/json"}}
    bs, err := encodePayload(http.StatusOK, hdr, []byte(`{"total":0}`))
    require.NoError(t, err)

    status, gotHdr, body, ok := decodePayload(bs)
    require.True(t, ok)
    assert.Equal(t, http.StatusOK, status)
    assert.Equal(t, "application/json", gotHdr.Get("Content-Type"))
    assert.Equal(t, `{"total":0}`, string(body))

    _, _, _, ok = decodePayload(bs[:5])
    assert.False(t, ok)
}

func TestCaptureWriterLimit(t *testing.T) {
    rec := httptest.NewRecorder()
    cw := &captureWriter{ResponseWriter: rec, status: http.StatusOK, limit: 4}

    _, err := cw.Write([]byte("abcdef"))
    require.NoError(t, err)

    assert.Equal(t, "abcdef", rec.Body.String())
    assert.Equal(t, "abcd", cw.buf.String())
    assert.True(t, cw.truncated())
}

func TestNewRedisCacheDisabledPassesThrough(t *testing.T) {
    e := echo.New()
    e.Use(NewRedisCache(config.CacheConfig{Enabled: true}, nil))
    e.GET("/api/items", func(c echo.Context) error { return c.String(http.StatusOK, "fresh") })

    rec := httptest.NewRecorder()
    e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/items", nil))

    assert.Equal(t, http.StatusOK, rec.Code)
    assert.Equal(t, "fresh", rec.Body.String())
    assert.Empty(t, rec.Header().Get("X-Cache"))
}
