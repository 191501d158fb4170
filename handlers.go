package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/muhammadolammi/careerpivot/internal/accounts"
	"github.com/muhammadolammi/careerpivot/internal/live"
	"github.com/muhammadolammi/careerpivot/internal/metrics"
	"github.com/rs/zerolog/log"
)

const (
	guestIdentifier = "guest"
	tokensHeader    = "X-Tokens-Remaining"
)

var errMissingResume = errors.New("resume file is required")

func identifierFrom(email string) string {
	email = strings.TrimSpace(email)
	if email == "" {
		return guestIdentifier
	}
	return email
}

func (app *AppConfig) handlerHealth(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"uptime_sec": int64(time.Since(app.StartedAt).Seconds()),
	})
}

// handlerAccess handles POST /api/access
func (app *AppConfig) handlerAccess(ctx *gin.Context) {
	var req struct {
		Code string `json:"code" binding:"required"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !app.codeMatches(req.Code) {
		ctx.JSON(http.StatusUnauthorized, gin.H{"error": "access code incorrect"})
		return
	}
	ctx.SetSameSite(http.SameSiteLaxMode)
	ctx.SetCookie(accessCookie, app.accessToken(), int(accessCookieTTL.Seconds()), "/", "", false, true)
	ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handlerGetAccount handles GET /api/account?email=
func (app *AppConfig) handlerGetAccount(ctx *gin.Context) {
	acct, err := app.Accounts.GetAccount(ctx.Request.Context(), identifierFrom(ctx.Query("email")))
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, newAccountView(acct))
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// handlerAccountLive handles GET /api/account/live?email= and upgrades to a
// websocket that streams the account's events.
func (app *AppConfig) handlerAccountLive(ctx *gin.Context) {
	email := identifierFrom(ctx.Query("email"))
	// create the account first so its creation event is not replayed
	if _, err := app.Accounts.GetAccount(ctx.Request.Context(), email); err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	// subscribe before reading the snapshot; anything mutated in between
	// is queued behind it
	sub := app.Live.Subscribe(email)
	acct, err := app.Accounts.GetAccount(ctx.Request.Context(), email)
	if err != nil {
		app.Live.Unsubscribe(sub)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	ws, err := wsUpgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		app.Live.Unsubscribe(sub)
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	app.Live.Serve(ws, sub, live.Snapshot(acct))
}

func (app *AppConfig) handlerPlans(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, plans)
}

// handlerUpgrade handles POST /api/account/upgrade
func (app *AppConfig) handlerUpgrade(ctx *gin.Context) {
	var req struct {
		Email string `json:"email"`
		Tier  string `json:"tier" binding:"required"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	tier, err := accounts.ParseTier(req.Tier)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	acct, err := app.Accounts.Upgrade(ctx.Request.Context(), identifierFrom(req.Email), tier)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, newAccountView(acct))
}

// handlerStrategy handles POST /api/strategy. One token per report.
func (app *AppConfig) handlerStrategy(ctx *gin.Context) {
	reqCtx := ctx.Request.Context()
	email := identifierFrom(ctx.PostForm("email"))

	format := ctx.DefaultPostForm("format", "json")
	if format != "json" && format != "pdf" {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unsupported format %q", format)})
		return
	}

	resume, err := app.readResume(ctx)
	if err != nil {
		ctx.JSON(uploadErrorStatus(err), gin.H{"error": err.Error()})
		return
	}

	ok, err := app.Accounts.DeductToken(reqCtx, email)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		ctx.JSON(http.StatusPaymentRequired, gin.H{"error": "Not enough tokens! Please upgrade your plan."})
		return
	}

	app.archive(reqCtx, objectKey("resumes", email, "pdf"), "application/pdf", resume)

	report, err := app.runAI(reqCtx, "strategy", resume, strategyPrompt())
	if err != nil {
		ctx.JSON(http.StatusBadGateway, gin.H{"error": fmt.Sprintf("Error: %v", err)})
		return
	}

	acct, err := app.Accounts.GetAccount(reqCtx, email)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if format == "pdf" {
		doc, err := renderPDFReport(report, time.Now())
		if err != nil {
			ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		app.archive(reqCtx, objectKey("reports", email, "pdf"), "application/pdf", doc)

		ctx.Header(tokensHeader, acct.DisplayTokens())
		ctx.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", strategyPDFFilename))
		ctx.Data(http.StatusOK, "application/pdf", doc)
		return
	}

	html, err := renderHTMLReport(report)
	if err != nil {
		log.Warn().Err(err).Msg("failed to render html report")
	}

	message := "Strategy Ready! (1 Token deducted)"
	if acct.Unlimited() {
		message = "Strategy Ready!"
	}
	ctx.JSON(http.StatusOK, StrategyResponse{
		Message: message,
		Report:  report,
		HTML:    html,
		Account: newAccountView(acct),
	})
}

// handlerRewrite handles POST /api/rewrite. Premium only.
func (app *AppConfig) handlerRewrite(ctx *gin.Context) {
	reqCtx := ctx.Request.Context()
	email := identifierFrom(ctx.PostForm("email"))

	premium, err := app.Accounts.IsPremium(reqCtx, email)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !premium {
		ctx.JSON(http.StatusForbidden, gin.H{
			"error":   "This feature is locked.",
			"upgrade": "Upgrade to Premium ($49) to unlock:",
			"unlocks": premiumUnlocks,
		})
		return
	}

	format := ctx.DefaultPostForm("format", "docx")
	if format != "docx" && format != "markdown" {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unsupported format %q", format)})
		return
	}

	resume, err := app.readResume(ctx)
	if err != nil {
		ctx.JSON(uploadErrorStatus(err), gin.H{"error": err.Error()})
		return
	}
	app.archive(reqCtx, objectKey("resumes", email, "pdf"), "application/pdf", resume)

	rewrite, err := app.runAI(reqCtx, "rewrite", resume, rewritePrompt())
	if err != nil {
		ctx.JSON(http.StatusBadGateway, gin.H{"error": fmt.Sprintf("Error: %v", err)})
		return
	}

	if format == "markdown" {
		ctx.JSON(http.StatusOK, RewriteResponse{Rewrite: rewrite})
		return
	}

	doc, err := buildResumeDocx(rewrite)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	app.archive(reqCtx, objectKey("rewrites", email, "docx"), docxMime, doc)

	ctx.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", rewriteFilename))
	ctx.Data(http.StatusOK, docxMime, doc)
}

// handlerJobSearch handles GET /api/jobs/search?role=
func (app *AppConfig) handlerJobSearch(ctx *gin.Context) {
	role := strings.TrimSpace(ctx.Query("role"))
	if role == "" {
		role = defaultTargetRole
	}
	ctx.JSON(http.StatusOK, JobSearchResponse{Role: role, URL: linkedInSearchURL(role)})
}

func (app *AppConfig) readResume(ctx *gin.Context) ([]byte, error) {
	fh, err := ctx.FormFile("resume")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return nil, ErrFileTooLarge
		}
		return nil, errMissingResume
	}
	if fh.Size > app.MaxUploadBytes {
		return nil, ErrFileTooLarge
	}

	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, app.MaxUploadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > app.MaxUploadBytes {
		return nil, ErrFileTooLarge
	}
	if !isPDF(fh.Filename, data) {
		return nil, ErrNotPDF
	}
	return data, nil
}

func uploadErrorStatus(err error) int {
	switch {
	case errors.Is(err, ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrNotPDF), errors.Is(err, errMissingResume):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (app *AppConfig) runAI(ctx context.Context, action string, resume []byte, prompt string) (string, error) {
	start := time.Now()
	text, err := app.Analyzer.Submit(ctx, resume, prompt)
	metrics.AIDuration.WithLabelValues(action).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.AICalls.WithLabelValues(action, "error").Inc()
		log.Error().Err(err).Str("action", action).Msg("ai call failed")
		return "", err
	}
	metrics.AICalls.WithLabelValues(action, "ok").Inc()
	return CleanText(text), nil
}

func objectKey(prefix, email, ext string) string {
	return fmt.Sprintf("%s/%s/%s.%s", prefix, url.PathEscape(email), uuid.NewString(), ext)
}

// archive stores data when R2 is configured. Failures are only logged.
func (app *AppConfig) archive(ctx context.Context, key, contentType string, data []byte) {
	if app.Archive == nil {
		return
	}
	if err := app.Archive.Put(ctx, key, contentType, data); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("failed to archive file")
	}
}
