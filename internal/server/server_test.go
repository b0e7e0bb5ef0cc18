package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/shortyai/creditdesk/internal/authorization"
	"github.com/shortyai/creditdesk/internal/clock"
	"github.com/shortyai/creditdesk/internal/config"
	creditrepository "github.com/shortyai/creditdesk/internal/credit/repository"
	creditservice "github.com/shortyai/creditdesk/internal/credit/service"
	identitydomain "github.com/shortyai/creditdesk/internal/identity/domain"
	"github.com/shortyai/creditdesk/internal/identity/session"
	"github.com/shortyai/creditdesk/internal/liveevents"
	"github.com/shortyai/creditdesk/internal/migration"
	paymentrepository "github.com/shortyai/creditdesk/internal/payment/repository"
	paymentservice "github.com/shortyai/creditdesk/internal/payment/service"
	profiledomain "github.com/shortyai/creditdesk/internal/profile/domain"
	profilerepository "github.com/shortyai/creditdesk/internal/profile/repository"
	profileservice "github.com/shortyai/creditdesk/internal/profile/service"
	"github.com/shortyai/creditdesk/internal/ratelimit"
	"github.com/shortyai/creditdesk/internal/tier"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

type fakeIdentityService struct {
	mu       sync.Mutex
	sessions map[string]*identitydomain.Session
	signOuts []string
	hub      *liveevents.Hub
}

func newFakeIdentityService(hub *liveevents.Hub) *fakeIdentityService {
	return &fakeIdentityService{sessions: map[string]*identitydomain.Session{}, hub: hub}
}

func (f *fakeIdentityService) add(token, uid string, id int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[token] = &identitydomain.Session{
		ID:        snowflake.ID(id),
		UserID:    uid,
		Provider:  identitydomain.ProviderGoogle,
		ExpiresAt: time.Now().Add(time.Hour),
	}
}

func (f *fakeIdentityService) Providers() []identitydomain.ProviderInfo {
	return []identitydomain.ProviderInfo{
		{Name: identitydomain.ProviderFirebase, DisplayName: "Firebase", Flow: identitydomain.FlowIDToken},
		{Name: identitydomain.ProviderGoogle, DisplayName: "Google", Flow: identitydomain.FlowRedirect},
	}
}

func (f *fakeIdentityService) RedirectURL(ctx context.Context, provider string, req identitydomain.RedirectRequest) (identitydomain.RedirectResult, error) {
	if provider != identitydomain.ProviderGoogle {
		return identitydomain.RedirectResult{}, identitydomain.ErrProviderNotFound
	}
	return identitydomain.RedirectResult{
		URL:          "https://accounts.example.com/auth?redirect_uri=" + req.RedirectURI,
		State:        "state-1",
		CodeVerifier: "verifier-1",
	}, nil
}

func (f *fakeIdentityService) ExchangeCode(ctx context.Context, provider string, req identitydomain.ExchangeRequest) (identitydomain.SignInResult, error) {
	if req.Code != "good-code" || req.CodeVerifier != "verifier-1" {
		return identitydomain.SignInResult{}, identitydomain.ErrInvalidCredentials
	}
	f.add("oauth-token", "uid-oauth", 900)
	return identitydomain.SignInResult{RawToken: "oauth-token", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (f *fakeIdentityService) SignInWithIDToken(ctx context.Context, provider string, req identitydomain.IDTokenRequest) (identitydomain.SignInResult, error) {
	if req.IDToken != "good-id-token" {
		return identitydomain.SignInResult{}, fmt.Errorf("firebase: %w", identitydomain.ErrInvalidCredentials)
	}
	f.add("firebase-token", "uid-firebase", 901)
	return identitydomain.SignInResult{RawToken: "firebase-token", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (f *fakeIdentityService) Authenticate(ctx context.Context, rawToken string) (*identitydomain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess, ok := f.sessions[rawToken]
	if !ok {
		return nil, identitydomain.ErrInvalidSession
	}
	if sess.RevokedAt != nil {
		return nil, identitydomain.ErrSessionRevoked
	}
	return sess, nil
}

func (f *fakeIdentityService) SignOut(ctx context.Context, rawToken string) error {
	f.mu.Lock()
	sess, ok := f.sessions[rawToken]
	if ok {
		now := time.Now()
		sess.RevokedAt = &now
	}
	f.signOuts = append(f.signOuts, rawToken)
	f.mu.Unlock()
	if !ok {
		return identitydomain.ErrInvalidSession
	}
	event, err := liveevents.NewEvent(liveevents.SessionTopic(sess.ID.String()), liveevents.TypeSessionClosed, time.Now(), map[string]string{"session_id": sess.ID.String()})
	if err != nil {
		return err
	}
	f.hub.Publish(event)
	return nil
}

type testServer struct {
	srv      *Server
	engine   *gin.Engine
	db       *gorm.DB
	hub      *liveevents.Hub
	identity *fakeIdentityService
	profiles profiledomain.Service
}

type testServerOption func(*config.Config)

func withSubmitLimit(rate float64, burst int) testServerOption {
	return func(cfg *config.Config) {
		cfg.RateLimit.SubmitRate = rate
		cfg.RateLimit.SubmitBurst = burst
	}
}

func newTestServer(t *testing.T, opts ...testServerOption) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	registerValidators()

	cfg := config.Config{}
	for _, opt := range opts {
		opt(&cfg)
	}

	db := setupServerTestDB(t)
	log := zaptest.NewLogger(t)
	hub := liveevents.NewHub()
	clk := clock.SystemClock{}
	publisher := liveevents.NewBroadcaster(hub, nil, clk, log)
	node, err := snowflake.NewNode(7)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}

	enforcer, err := authorization.NewEnforcer(db)
	if err != nil {
		t.Fatalf("new enforcer: %v", err)
	}
	authz := authorization.NewService(authorization.Params{Log: log, Enforcer: enforcer})

	profileSvc := profileservice.New(profileservice.Params{
		DB:        db,
		Log:       log,
		Cfg:       cfg,
		Clock:     clk,
		Hub:       hub,
		Publisher: publisher,
		Repo:      profilerepository.Provide(),
	})
	creditSvc := creditservice.New(creditservice.Params{
		DB:         db,
		Log:        log,
		GenID:      node,
		Clock:      clk,
		Repo:       creditrepository.Provide(),
		ProfileSvc: profileSvc,
	})
	tiers := tier.NewStaticHolder(tier.DefaultCatalog())
	paymentSvc := paymentservice.New(paymentservice.Params{
		DB:         db,
		Log:        log,
		GenID:      node,
		Clock:      clk,
		Repo:       paymentrepository.Provide(),
		Tiers:      tiers,
		CreditSvc:  creditSvc,
		ProfileSvc: profileSvc,
		Hub:        hub,
		Publisher:  publisher,
	})
	identity := newFakeIdentityService(hub)

	engine := gin.New()
	engine.Use(ErrorHandlingMiddleware())
	srv := NewServer(ServerParams{
		Gin:           engine,
		Cfg:           cfg,
		Log:           log,
		IdentitySvc:   identity,
		Sessions:      session.NewManager(cfg),
		AuthzSvc:      authz,
		ProfileSvc:    profileSvc,
		PaymentSvc:    paymentSvc,
		CreditSvc:     creditSvc,
		Tiers:         tiers,
		Hub:           hub,
		SubmitLimiter: ratelimit.NewSubmitLimiter(cfg, nil),
	})

	ts := &testServer{srv: srv, engine: engine, db: db, hub: hub, identity: identity, profiles: profileSvc}
	ts.signIn(t, "user-token", "uid-ayse", "Ayşe", 101)
	ts.signIn(t, "other-token", "uid-mehmet", "Mehmet", 102)
	ts.signIn(t, "admin-token", "uid-admin", "Admin", 103)
	_, err = profileSvc.SetRole(context.Background(), profiledomain.SetRoleRequest{UID: "uid-admin", Role: "admin"})
	require.NoError(t, err)
	return ts
}

func (ts *testServer) signIn(t *testing.T, token, uid, name string, sessionID int64) {
	t.Helper()
	_, _, err := ts.profiles.Ensure(context.Background(), profiledomain.EnsureRequest{UID: uid, Name: name})
	require.NoError(t, err)
	ts.identity.add(token, uid, sessionID)
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.AddCookie(&http.Cookie{Name: session.DefaultCookieName, Value: token})
	}
	rec := httptest.NewRecorder()
	ts.engine.ServeHTTP(rec, req)
	return rec
}

func setupServerTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:srvdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := migration.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

type envelope struct {
	Error errorPayload `json:"error"`
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return env.Error
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body struct {
		Data map[string]any `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return body.Data
}

func TestTiersArePublic(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/tiers", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data []tier.Definition `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Data, 3)
	assert.Equal(t, tier.Starter, body.Data[0].Code)
	assert.Equal(t, tier.Elite, body.Data[2].Code)
	assert.Equal(t, int64(12), body.Data[2].Credits)
}

func TestAPIRequiresSession(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/profile", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", decodeError(t, rec).Type)

	rec = ts.do(t, http.MethodGet, "/api/profile", "unknown-token", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMeReportsSignedOutWithoutError(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/auth/me", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"authenticated":false}`, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/auth/me", "user-token", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Authenticated bool                  `json:"authenticated"`
		Profile       profiledomain.Profile `json:"profile"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Authenticated)
	assert.Equal(t, "uid-ayse", body.Profile.UID)
	assert.Equal(t, int64(1), body.Profile.Credits)
}

func TestSubmitPaymentRejectsInvalidFields(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/payments", "user-token", map[string]string{
		"order_no": "",
		"tier":     "75",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	payload := decodeError(t, rec)
	assert.Equal(t, "validation_error", payload.Type)
	fields := map[string]string{}
	for _, e := range payload.Errors {
		fields[e.Field] = e.Code
	}
	assert.Equal(t, "required", fields["order_no"])
	assert.Equal(t, "tier", fields["tier"])

	rec = ts.do(t, http.MethodPost, "/api/payments", "user-token", map[string]string{
		"order_no": strings.Repeat("9", 65),
		"tier":     "50",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "orderno", decodeError(t, rec).Errors[0].Code)
}

func TestSubmitApproveAndReapprove(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/payments", "user-token", map[string]string{
		"order_no": "SIP-2001",
		"tier":     "200",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeData(t, rec)
	id, _ := created["id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, "pending", created["status"])

	rec = ts.do(t, http.MethodPost, "/admin/payments/"+id+"/approve", "user-token", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodPost, "/admin/payments/"+id+"/approve", "admin-token", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	approved := decodeData(t, rec)
	assert.Equal(t, "approved", approved["status"])
	assert.EqualValues(t, 12, approved["credits_granted"])

	prof, err := ts.profiles.Get(context.Background(), "uid-ayse")
	require.NoError(t, err)
	assert.Equal(t, int64(13), prof.Credits)

	rec = ts.do(t, http.MethodPost, "/admin/payments/"+id+"/approve", "admin-token", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "already_approved", decodeError(t, rec).Message)

	prof, err = ts.profiles.Get(context.Background(), "uid-ayse")
	require.NoError(t, err)
	assert.Equal(t, int64(13), prof.Credits)
}

func TestPaymentVisibility(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/payments", "user-token", map[string]string{"order_no": "SIP-1", "tier": "50"})
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decodeData(t, rec)["id"].(string)
	rec = ts.do(t, http.MethodPost, "/api/payments", "other-token", map[string]string{"order_no": "SIP-2", "tier": "100"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/payments/"+id, "other-token", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/payments/not-a-number", "other-token", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var list struct {
		PendingCount  int64            `json:"pending_count"`
		Notifications []map[string]any `json:"notifications"`
	}
	rec = ts.do(t, http.MethodGet, "/api/payments", "user-token", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list.Notifications, 1)
	assert.Equal(t, int64(1), list.PendingCount)

	rec = ts.do(t, http.MethodGet, "/api/payments", "admin-token", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list.Notifications, 2)
	assert.Equal(t, int64(2), list.PendingCount)
	assert.Equal(t, "SIP-2", list.Notifications[0]["order_no"])

	rec = ts.do(t, http.MethodGet, "/api/payments?page_token=garbage!", "admin-token", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitIsRateLimitedPerUser(t *testing.T) {
	ts := newTestServer(t, withSubmitLimit(0.001, 1))

	rec := ts.do(t, http.MethodPost, "/api/payments", "user-token", map[string]string{"order_no": "SIP-1", "tier": "50"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/payments", "user-token", map[string]string{"order_no": "SIP-2", "tier": "50"})
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate_limited", decodeError(t, rec).Type)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	rec = ts.do(t, http.MethodPost, "/api/payments", "other-token", map[string]string{"order_no": "SIP-3", "tier": "50"})
	require.Equal(t, http.StatusCreated, rec.Code)
}

func TestInvalidSubmitDoesNotSpendRateLimit(t *testing.T) {
	ts := newTestServer(t, withSubmitLimit(0.001, 1))

	for _, body := range []map[string]string{
		{"order_no": "", "tier": "50"},
		{"order_no": "SIP-1", "tier": "75"},
	} {
		rec := ts.do(t, http.MethodPost, "/api/payments", "user-token", body)
		require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	}

	rec := ts.do(t, http.MethodPost, "/api/payments", "user-token", map[string]string{"order_no": "SIP-1", "tier": "50"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestConsumeCreditIsIdempotentPerRun(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/credits/consume", "user-token", map[string]string{"run_id": "run-1"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodPost, "/api/credits/consume", "user-token", map[string]string{"run_id": "run-1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeData(t, rec)["replayed"])

	rec = ts.do(t, http.MethodPost, "/api/credits/consume", "user-token", map[string]string{"run_id": "run-2"})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "insufficient_credits", decodeError(t, rec).Message)

	rec = ts.do(t, http.MethodGet, "/api/credits/entries", "user-token", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var entries struct {
		Entries []map[string]any `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries.Entries, 1)
	assert.EqualValues(t, 0, entries.Entries[0]["balance_after"])
}

func TestSetRoleIsAdminOnly(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPatch, "/admin/profiles/uid-mehmet/role", "user-token", map[string]string{"role": "admin"})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodPatch, "/admin/profiles/uid-mehmet/role", "admin-token", map[string]string{"role": "owner"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPatch, "/admin/profiles/uid-nobody/role", "admin-token", map[string]string{"role": "admin"})
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodPatch, "/admin/profiles/uid-mehmet/role", "admin-token", map[string]string{"role": "admin"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "admin", decodeData(t, rec)["role"])

	// the new role applies on the next request without signing in again
	rec = ts.do(t, http.MethodGet, "/api/payments", "other-token", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateSessionHidesProviderDetail(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/auth/session", "", map[string]string{"id_token": "forged"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	payload := decodeError(t, rec)
	assert.Equal(t, "sign_in_failed", payload.Message)
	assert.NotContains(t, rec.Body.String(), "firebase")

	rec = ts.do(t, http.MethodPost, "/auth/session", "", map[string]string{"id_token": "good-id-token"})
	require.Equal(t, http.StatusOK, rec.Code)
	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)
	assert.Equal(t, session.DefaultCookieName, cookies[0].Name)
	assert.Equal(t, "firebase-token", cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)
}

func TestLogoutRevokesAndClearsCookie(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/auth/logout", "user-token", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"user-token"}, ts.identity.signOuts)

	var cleared bool
	for _, c := range rec.Result().Cookies() {
		if c.Name == session.DefaultCookieName && c.MaxAge < 0 {
			cleared = true
		}
	}
	assert.True(t, cleared)

	rec = ts.do(t, http.MethodGet, "/api/profile", "user-token", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProvidersListsLoginPaths(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/auth/providers", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Providers []AuthProviderInfo `json:"providers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Providers, 2)
	assert.Empty(t, body.Providers[0].LoginPath)
	assert.Equal(t, "/login/google", body.Providers[1].LoginPath)
}

func TestUnknownRouteUsesErrorEnvelope(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/nope", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeError(t, rec).Type)
}
