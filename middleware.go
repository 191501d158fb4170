package main

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	accessCookie     = "cp_access"
	accessHeader     = "X-Access-Code"
	accessCookieTTL  = 12 * time.Hour
	requestIDHeader  = "X-Request-ID"
	requestIDContext = "request_id"
)

func requestLogger() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		reqID := ctx.GetHeader(requestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx.Set(requestIDContext, reqID)
		ctx.Header(requestIDHeader, reqID)

		ctx.Next()

		log.Info().
			Str("request_id", reqID).
			Str("method", ctx.Request.Method).
			Str("path", ctx.FullPath()).
			Int("status", ctx.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}

// limitBody rejects requests declaring more than max bytes and caps the
// rest, so multipart parsing never spools an oversized body to disk.
func limitBody(max int64) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if ctx.Request.ContentLength > max {
			ctx.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": ErrFileTooLarge.Error()})
			return
		}
		ctx.Request.Body = http.MaxBytesReader(ctx.Writer, ctx.Request.Body, max)
		ctx.Next()
	}
}

func (app *AppConfig) codeMatches(code string) bool {
	return subtle.ConstantTimeCompare([]byte(code), []byte(app.AccessCode)) == 1
}

// accessToken is the cookie value proving the access code was entered.
func (app *AppConfig) accessToken() string {
	mac := hmac.New(sha256.New, app.accessKey)
	mac.Write([]byte(app.AccessCode))
	return hex.EncodeToString(mac.Sum(nil))
}

func (app *AppConfig) requireAccess() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if code := ctx.GetHeader(accessHeader); code != "" && app.codeMatches(code) {
			ctx.Next()
			return
		}
		if cookie, err := ctx.Cookie(accessCookie); err == nil &&
			hmac.Equal([]byte(cookie), []byte(app.accessToken())) {
			ctx.Next()
			return
		}
		ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "access code required"})
	}
}

type limiterEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// ipRateLimiter keeps one token bucket per client IP.
type ipRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	limit    rate.Limit
	burst    int
	now      func() time.Time
}

func newIPRateLimiter(perMinute int) *ipRateLimiter {
	return &ipRateLimiter{
		limiters: make(map[string]*limiterEntry),
		limit:    rate.Limit(float64(perMinute) / 60.0),
		burst:    perMinute,
		now:      time.Now,
	}
}

func (l *ipRateLimiter) Allow(ip string) bool {
	l.mu.Lock()
	e, ok := l.limiters[ip]
	if !ok {
		e = &limiterEntry{lim: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[ip] = e
	}
	e.lastSeen = l.now()
	l.mu.Unlock()
	return e.lim.Allow()
}

// sweep forgets buckets idle for longer than idle and returns how many went.
func (l *ipRateLimiter) sweep(idle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-idle)
	removed := 0
	for ip, e := range l.limiters {
		if e.lastSeen.Before(cutoff) {
			delete(l.limiters, ip)
			removed++
		}
	}
	return removed
}

func (l *ipRateLimiter) runSweeper(ctx context.Context, every, idle time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := l.sweep(idle); n > 0 {
				log.Debug().Int("removed", n).Msg("swept idle rate limiters")
			}
		}
	}
}

func (l *ipRateLimiter) Middleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if !l.Allow(ctx.ClientIP()) {
			ctx.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		ctx.Next()
	}
}
