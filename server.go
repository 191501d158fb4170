package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/muhammadolammi/careerpivot/internal/accounts"
	"github.com/muhammadolammi/careerpivot/internal/live"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	limiterSweepEvery = time.Minute
	limiterIdleAfter  = 10 * time.Minute

	// room for the other form fields and multipart framing
	multipartOverhead = 1 << 20
)

func newAppConfig(svc *accounts.Service, hub *live.Hub, analyzer Analyzer, archive ObjectStore, cfg Config) (*AppConfig, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate access key: %w", err)
	}
	return &AppConfig{
		Accounts:       svc,
		Live:           hub,
		Analyzer:       analyzer,
		Archive:        archive,
		AccessCode:     cfg.AccessCode,
		MaxUploadBytes: cfg.MaxUploadMB << 20,
		StartedAt:      time.Now(),
		accessKey:      key,
		limiter:        newIPRateLimiter(cfg.RateLimitPerMinute),
	}, nil
}

func (app *AppConfig) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())
	r.MaxMultipartMemory = app.MaxUploadBytes + multipartOverhead

	r.GET("/health", app.handlerHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.POST("/access", app.handlerAccess)
	api.GET("/plans", app.handlerPlans)

	gated := api.Group("", app.requireAccess())
	gated.GET("/account", app.handlerGetAccount)
	gated.POST("/account/upgrade", app.handlerUpgrade)
	gated.GET("/account/live", app.handlerAccountLive)
	gated.GET("/jobs/search", app.handlerJobSearch)

	ai := gated.Group("", app.limiter.Middleware(), limitBody(app.MaxUploadBytes+multipartOverhead))
	ai.POST("/strategy", app.handlerStrategy)
	ai.POST("/rewrite", app.handlerRewrite)

	return r
}

// runServer serves until ctx is cancelled, then shuts down gracefully.
func runServer(ctx context.Context, app *AppConfig, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           app.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("career pivot server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		app.limiter.runSweeper(ctx, limiterSweepEvery, limiterIdleAfter)
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("shutting down")
		if app.Live != nil {
			app.Live.Close()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
