package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/muhammadolammi/careerpivot/internal/accounts"
	"github.com/muhammadolammi/careerpivot/internal/live"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAccessCode = "PIVOT2025"

var samplePDF = []byte("%PDF-1.4\n%fake resume\n")

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	zerolog.SetGlobalLevel(zerolog.Disabled)
	os.Exit(m.Run())
}

type fakeAnalyzer struct {
	mu      sync.Mutex
	reply   string
	err     error
	prompts []string
}

func (f *fakeAnalyzer) Submit(_ context.Context, file []byte, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	return f.reply, f.err
}

func (f *fakeAnalyzer) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

type fakeArchive struct {
	mu   sync.Mutex
	keys []string
}

func (a *fakeArchive) Put(_ context.Context, key, _ string, _ []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.keys = append(a.keys, key)
	return nil
}

func newTestApp(t *testing.T, analyzer Analyzer) (*AppConfig, *fakeArchive) {
	t.Helper()
	hub := live.NewHub()
	svc := accounts.NewService(accounts.NewMemoryStore(),
		accounts.WithLogger(zerolog.Nop()),
		accounts.WithPublisher(hub),
	)
	archive := &fakeArchive{}
	app, err := newAppConfig(svc, hub, analyzer, archive, Config{
		AccessCode:         testAccessCode,
		MaxUploadMB:        1,
		RateLimitPerMinute: 1000,
	})
	require.NoError(t, err)
	return app, archive
}

func serve(app *AppConfig, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	app.routes().ServeHTTP(rec, req)
	return rec
}

func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(accessHeader, testAccessCode)
	return req
}

func resumeRequest(t *testing.T, path string, fields map[string]string, filename string, content []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("resume", filename)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(accessHeader, testAccessCode)
	return req
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func tokensOf(t *testing.T, app *AppConfig, id string) int64 {
	t.Helper()
	acct, err := app.Accounts.GetAccount(context.Background(), id)
	require.NoError(t, err)
	return acct.Tokens
}

func TestHealth(t *testing.T) {
	app, _ := newTestApp(t, &fakeAnalyzer{})
	rec := serve(app, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[map[string]any](t, rec)["status"])
}

func TestRequireAccess(t *testing.T) {
	app, _ := newTestApp(t, &fakeAnalyzer{})

	req := httptest.NewRequest(http.MethodGet, "/api/account?email=a@x.com", nil)
	assert.Equal(t, http.StatusUnauthorized, serve(app, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/api/account?email=a@x.com", nil)
	req.Header.Set(accessHeader, "WRONG")
	assert.Equal(t, http.StatusUnauthorized, serve(app, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/api/account?email=a@x.com", nil)
	req.AddCookie(&http.Cookie{Name: accessCookie, Value: "forged"})
	assert.Equal(t, http.StatusUnauthorized, serve(app, req).Code)
}

func TestAccessCodeSetsCookie(t *testing.T) {
	app, _ := newTestApp(t, &fakeAnalyzer{})

	rec := serve(app, jsonRequest(t, http.MethodPost, "/api/access", map[string]string{"code": "nope"}))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "access code incorrect")

	rec = serve(app, jsonRequest(t, http.MethodPost, "/api/access", map[string]string{"code": testAccessCode}))
	require.Equal(t, http.StatusOK, rec.Code)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, accessCookie, cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)

	req := httptest.NewRequest(http.MethodGet, "/api/account?email=a@x.com", nil)
	req.AddCookie(cookies[0])
	assert.Equal(t, http.StatusOK, serve(app, req).Code)
}

func TestGetAccount(t *testing.T) {
	app, _ := newTestApp(t, &fakeAnalyzer{})

	rec := serve(app, jsonRequest(t, http.MethodGet, "/api/account?email=a@x.com", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	view := decode[AccountView](t, rec)
	assert.Equal(t, "a@x.com", view.Identifier)
	assert.Equal(t, accounts.TierFree, view.Tier)
	assert.Equal(t, int64(3), view.Tokens)
	assert.Equal(t, "FREE", view.Plan)
	assert.Equal(t, "3", view.TokensDisplay)
	assert.Equal(t, "🆓 Free Trial Mode (3 Tokens)", view.Banner)
	assert.True(t, view.Entitlements[accounts.FeatureStrategyReport])
	assert.False(t, view.Entitlements[accounts.FeatureResumeRewrite])
}

func TestGetAccountFallsBackToGuest(t *testing.T) {
	app, _ := newTestApp(t, &fakeAnalyzer{})

	rec := serve(app, jsonRequest(t, http.MethodGet, "/api/account?email=%20", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, guestIdentifier, decode[AccountView](t, rec).Identifier)
}

func TestUpgrade(t *testing.T) {
	app, _ := newTestApp(t, &fakeAnalyzer{})

	rec := serve(app, jsonRequest(t, http.MethodPost, "/api/account/upgrade", map[string]string{"email": "a@x.com", "tier": "basic"}))
	require.Equal(t, http.StatusOK, rec.Code)
	view := decode[AccountView](t, rec)
	assert.Equal(t, accounts.TierBasic, view.Tier)
	assert.Equal(t, int64(13), view.Tokens)
	assert.Equal(t, "✅ Basic Access Active (Upgrade for Resume Rewrite)", view.Banner)

	rec = serve(app, jsonRequest(t, http.MethodPost, "/api/account/upgrade", map[string]string{"email": "a@x.com", "tier": "premium"}))
	require.Equal(t, http.StatusOK, rec.Code)
	view = decode[AccountView](t, rec)
	assert.True(t, view.Unlimited)
	assert.Equal(t, "unlimited", view.TokensDisplay)
	assert.Equal(t, accounts.UnlimitedTokens, view.Tokens)

	rec = serve(app, jsonRequest(t, http.MethodPost, "/api/account/upgrade", map[string]string{"email": "a@x.com", "tier": "gold"}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(app, jsonRequest(t, http.MethodPost, "/api/account/upgrade", map[string]string{"email": "a@x.com"}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPlans(t *testing.T) {
	app, _ := newTestApp(t, &fakeAnalyzer{})
	rec := serve(app, httptest.NewRequest(http.MethodGet, "/api/plans", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	got := decode[[]Plan](t, rec)
	require.Len(t, got, 3)
	assert.Equal(t, 29, got[1].PriceUSD)
	assert.Equal(t, 49, got[2].PriceUSD)
}

func TestStrategySpendsToken(t *testing.T) {
	analyzer := &fakeAnalyzer{reply: "```markdown\n# Report\n\n| role | fit |\n|---|---|\n| SRE | high |\n```"}
	app, archive := newTestApp(t, analyzer)

	rec := serve(app, resumeRequest(t, "/api/strategy", map[string]string{"email": "a@x.com"}, "resume.pdf", samplePDF))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[StrategyResponse](t, rec)
	assert.Equal(t, "Strategy Ready! (1 Token deducted)", resp.Message)
	assert.True(t, strings.HasPrefix(resp.Report, "# Report"))
	assert.NotContains(t, resp.Report, "```")
	assert.Contains(t, resp.HTML, "<table>")
	assert.Equal(t, int64(2), resp.Account.Tokens)

	require.Len(t, archive.keys, 1)
	assert.True(t, strings.HasPrefix(archive.keys[0], "resumes/a@x.com/"))
	assert.True(t, strings.HasSuffix(archive.keys[0], ".pdf"))
	assert.Equal(t, strategyPrompt(), analyzer.prompts[0])
}

func TestStrategyPDFDownload(t *testing.T) {
	app, archive := newTestApp(t, &fakeAnalyzer{reply: "# Report\n\n- pivot to SRE"})

	rec := serve(app, resumeRequest(t, "/api/strategy", map[string]string{"email": "a@x.com", "format": "pdf"}, "resume.pdf", samplePDF))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), strategyPDFFilename)
	assert.Equal(t, "2", rec.Header().Get(tokensHeader))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF-")))

	require.Len(t, archive.keys, 2)
	assert.True(t, strings.HasPrefix(archive.keys[1], "reports/a@x.com/"))
}

func TestStrategyRejectsUnknownFormat(t *testing.T) {
	analyzer := &fakeAnalyzer{reply: "# Report"}
	app, _ := newTestApp(t, analyzer)

	rec := serve(app, resumeRequest(t, "/api/strategy", map[string]string{"email": "a@x.com", "format": "xlsx"}, "resume.pdf", samplePDF))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, analyzer.calls())
	assert.Equal(t, int64(3), tokensOf(t, app, "a@x.com"))
}

func TestStrategyPremiumDoesNotSpend(t *testing.T) {
	app, _ := newTestApp(t, &fakeAnalyzer{reply: "# Report"})
	_, err := app.Accounts.Upgrade(context.Background(), "vip@x.com", accounts.TierPremium)
	require.NoError(t, err)

	rec := serve(app, resumeRequest(t, "/api/strategy", map[string]string{"email": "vip@x.com"}, "resume.pdf", samplePDF))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Strategy Ready!", decode[StrategyResponse](t, rec).Message)
	assert.Equal(t, accounts.UnlimitedTokens, tokensOf(t, app, "vip@x.com"))
}

func TestStrategyOutOfTokens(t *testing.T) {
	analyzer := &fakeAnalyzer{reply: "# Report"}
	app, _ := newTestApp(t, analyzer)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		ok, err := app.Accounts.DeductToken(ctx, "a@x.com")
		require.NoError(t, err)
		require.True(t, ok)
	}

	rec := serve(app, resumeRequest(t, "/api/strategy", map[string]string{"email": "a@x.com"}, "resume.pdf", samplePDF))
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Contains(t, rec.Body.String(), "Not enough tokens")
	assert.Equal(t, 0, analyzer.calls())
	assert.Equal(t, int64(0), tokensOf(t, app, "a@x.com"))
}

func TestStrategyUploadValidation(t *testing.T) {
	cases := []struct {
		name     string
		filename string
		content  []byte
		maxBytes int64
		want     int
	}{
		{name: "missing file", want: http.StatusBadRequest},
		{name: "not a pdf", filename: "resume.txt", content: []byte("hello"), want: http.StatusBadRequest},
		{name: "pdf extension without pdf bytes", filename: "resume.pdf", content: []byte("hello"), want: http.StatusBadRequest},
		{name: "too large", filename: "resume.pdf", content: samplePDF, maxBytes: 8, want: http.StatusRequestEntityTooLarge},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			analyzer := &fakeAnalyzer{reply: "# Report"}
			app, _ := newTestApp(t, analyzer)
			if tc.maxBytes > 0 {
				app.MaxUploadBytes = tc.maxBytes
			}

			rec := serve(app, resumeRequest(t, "/api/strategy", map[string]string{"email": "a@x.com"}, tc.filename, tc.content))
			assert.Equal(t, tc.want, rec.Code, rec.Body.String())
			assert.Equal(t, 0, analyzer.calls())
			assert.Equal(t, int64(3), tokensOf(t, app, "a@x.com"), "a rejected upload must not cost a token")
		})
	}
}

func TestStrategyRejectsOversizedBody(t *testing.T) {
	analyzer := &fakeAnalyzer{reply: "# Report"}
	app, _ := newTestApp(t, analyzer)

	big := append([]byte("%PDF-1.4\n"), bytes.Repeat([]byte("x"), 3<<20)...)
	req := resumeRequest(t, "/api/strategy", map[string]string{"email": "a@x.com"}, "resume.pdf", big)

	rec := serve(app, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code, rec.Body.String())
	assert.Equal(t, 0, analyzer.calls())
	assert.Equal(t, int64(3), tokensOf(t, app, "a@x.com"))
}

func TestStrategyCapsBodyWithoutContentLength(t *testing.T) {
	analyzer := &fakeAnalyzer{reply: "# Report"}
	app, _ := newTestApp(t, analyzer)

	big := append([]byte("%PDF-1.4\n"), bytes.Repeat([]byte("x"), 3<<20)...)
	req := resumeRequest(t, "/api/strategy", map[string]string{"email": "a@x.com"}, "resume.pdf", big)
	req.ContentLength = -1

	rec := serve(app, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code, rec.Body.String())
	assert.Equal(t, 0, analyzer.calls())
	assert.Equal(t, int64(3), tokensOf(t, app, "a@x.com"))
}

func TestStrategyAIErrorKeepsDeduction(t *testing.T) {
	app, _ := newTestApp(t, &fakeAnalyzer{err: errors.New("quota exceeded")})

	rec := serve(app, resumeRequest(t, "/api/strategy", map[string]string{"email": "a@x.com"}, "resume.pdf", samplePDF))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "quota exceeded")
	assert.Equal(t, int64(2), tokensOf(t, app, "a@x.com"))
}

func TestRewriteLockedForNonPremium(t *testing.T) {
	analyzer := &fakeAnalyzer{reply: "Jane Doe"}
	app, _ := newTestApp(t, analyzer)
	_, err := app.Accounts.Upgrade(context.Background(), "a@x.com", accounts.TierBasic)
	require.NoError(t, err)

	rec := serve(app, resumeRequest(t, "/api/rewrite", map[string]string{"email": "a@x.com"}, "resume.pdf", samplePDF))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "This feature is locked.", body["error"])
	assert.Len(t, body["unlocks"], 3)
	assert.Equal(t, 0, analyzer.calls())
}

func TestRewriteDocx(t *testing.T) {
	analyzer := &fakeAnalyzer{reply: "Jane Doe\nSite Reliability Engineer"}
	app, archive := newTestApp(t, analyzer)
	_, err := app.Accounts.Upgrade(context.Background(), "vip@x.com", accounts.TierPremium)
	require.NoError(t, err)

	rec := serve(app, resumeRequest(t, "/api/rewrite", map[string]string{"email": "vip@x.com"}, "resume.pdf", samplePDF))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, docxMime, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), rewriteFilename)
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")))

	require.Len(t, archive.keys, 2)
	assert.True(t, strings.HasPrefix(archive.keys[1], "rewrites/vip@x.com/"))
	assert.Equal(t, rewritePrompt(), analyzer.prompts[0])
}

func TestRewriteMarkdown(t *testing.T) {
	app, _ := newTestApp(t, &fakeAnalyzer{reply: "```\nJane Doe\n```"})
	_, err := app.Accounts.Upgrade(context.Background(), "vip@x.com", accounts.TierPremium)
	require.NoError(t, err)

	rec := serve(app, resumeRequest(t, "/api/rewrite", map[string]string{"email": "vip@x.com", "format": "markdown"}, "resume.pdf", samplePDF))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Jane Doe", decode[RewriteResponse](t, rec).Rewrite)

	rec = serve(app, resumeRequest(t, "/api/rewrite", map[string]string{"email": "vip@x.com", "format": "pdf"}, "resume.pdf", samplePDF))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestJobSearch(t *testing.T) {
	app, _ := newTestApp(t, &fakeAnalyzer{})

	rec := serve(app, jsonRequest(t, http.MethodGet, "/api/jobs/search", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[JobSearchResponse](t, rec)
	assert.Equal(t, defaultTargetRole, resp.Role)
	assert.Equal(t, "https://www.linkedin.com/jobs/search/?keywords=Data+Center+Technician", resp.URL)

	rec = serve(app, jsonRequest(t, http.MethodGet, "/api/jobs/search?role=C%2B%2B+Developer", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://www.linkedin.com/jobs/search/?keywords=C%2B%2B+Developer", decode[JobSearchResponse](t, rec).URL)
}

func TestAIRoutesAreRateLimited(t *testing.T) {
	app, _ := newTestApp(t, &fakeAnalyzer{reply: "# Report"})
	app.limiter = newIPRateLimiter(1)

	rec := serve(app, resumeRequest(t, "/api/strategy", map[string]string{"email": "a@x.com"}, "resume.pdf", samplePDF))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(app, resumeRequest(t, "/api/strategy", map[string]string{"email": "a@x.com"}, "resume.pdf", samplePDF))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, int64(2), tokensOf(t, app, "a@x.com"))
}

func TestAccountLiveStreamsUpgrade(t *testing.T) {
	app, _ := newTestApp(t, &fakeAnalyzer{})
	srv := httptest.NewServer(app.routes())
	defer srv.Close()

	header := http.Header{}
	header.Set(accessHeader, testAccessCode)
	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/account/live?email=a@x.com", header)
	require.NoError(t, err)
	defer ws.Close()
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))

	var ev accounts.Event
	require.NoError(t, ws.ReadJSON(&ev))
	assert.Equal(t, live.EventSnapshot, ev.Type)
	assert.Equal(t, int64(3), ev.Tokens)

	require.Eventually(t, func() bool { return app.Live.Subscribers("a@x.com") == 1 }, 2*time.Second, 10*time.Millisecond)
	rec := serve(app, jsonRequest(t, http.MethodPost, "/api/account/upgrade", map[string]string{"email": "a@x.com", "tier": "basic"}))
	require.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, ws.ReadJSON(&ev))
	assert.Equal(t, accounts.EventUpgraded, ev.Type)
	assert.Equal(t, int64(13), ev.Tokens)
}

func TestAccountLiveRequiresAccess(t *testing.T) {
	app, _ := newTestApp(t, &fakeAnalyzer{})
	srv := httptest.NewServer(app.routes())
	defer srv.Close()

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/account/live?email=a@x.com", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
