package main // Entry point package

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/iliyamo/echo-cicd-demo/internal/config"
	"github.com/iliyamo/echo-cicd-demo/internal/handler"
	"github.com/iliyamo/echo-cicd-demo/internal/middleware"
	"github.com/iliyamo/echo-cicd-demo/internal/queue"
	"github.com/iliyamo/echo-cicd-demo/internal/repository"
	"github.com/iliyamo/echo-cicd-demo/internal/router"
	"github.com/iliyamo/echo-cicd-demo/internal/service"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg := config.Load()
	log.SetLevel(config.ParseLogLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	var events service.EventPublisher = service.NopPublisher{}
	if cfg.Events.Enabled {
		pub := service.NewAMQPPublisher(cfg.Events.URL, cfg.Events.Queue, 256)
		events = pub
		g.Go(func() error { return ignoreCanceled(pub.Run(ctx)) })
		g.Go(func() error {
			return ignoreCanceled(queue.StartItemConsumer(ctx, cfg.Events.URL, cfg.Events.Queue, cfg.Events.LogDir))
		})
	}

	var itemMW []echo.MiddlewareFunc
	cacheCfg := config.LoadCacheConfig()
	if cacheCfg.Enabled {
		rdb := config.NewRedisClient(ctx)
		if rdb == nil {
			log.Warn("redis unreachable; item cache disabled")
		} else {
			defer rdb.Close()
			itemMW = append(itemMW, middleware.NewRedisCache(cacheCfg, rdb))
		}
	}

	store := repository.NewItemStore()
	info := handler.NewInfoHandler(cfg)
	items := handler.NewItemHandler(store, events, cfg.Env)

	e := router.New(info, items, itemMW...)
	e.Logger.SetLevel(config.ParseLogLevel(cfg.LogLevel))
	e.Use(echomw.Recover())
	e.Use(middleware.RequestID())
	accessLog := log.New("http")
	accessLog.SetLevel(config.ParseLogLevel(cfg.LogLevel))
	e.Use(middleware.AccessLog(accessLog))
	e.Use(middleware.CORS())

	srv := &http.Server{
		Addr:    cfg.Addr(),
		Handler: otelhttp.NewHandler(e, "item-service"),
	}

	g.Go(func() error {
		log.Infof("listening on %s (env=%s)", cfg.Addr(), cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
