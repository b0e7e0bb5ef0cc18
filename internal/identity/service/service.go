package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/snowflake"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shortyai/creditdesk/internal/clock"
	"github.com/shortyai/creditdesk/internal/config"
	"github.com/shortyai/creditdesk/internal/identity/domain"
	"github.com/shortyai/creditdesk/internal/liveevents"
	obsmetrics "github.com/shortyai/creditdesk/internal/observability/metrics"
	profiledomain "github.com/shortyai/creditdesk/internal/profile/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	sessionTokenBytes = 32
	defaultSessionTTL = 7 * 24 * time.Hour

	sessionCacheSize = 4096
	sessionCacheTTL  = 30 * time.Second
)

var providerLabels = map[string]string{
	domain.ProviderGoogle:   "Google",
	domain.ProviderFirebase: "Firebase",
}

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Cfg        config.Config
	Clock      clock.Clock
	GenID      *snowflake.Node
	Repo       domain.SessionRepository
	Providers  domain.ProviderSet
	ProfileSvc profiledomain.Service
	Publisher  liveevents.Publisher
	Metrics    *obsmetrics.Metrics   `optional:"true"`
	Registerer prometheus.Registerer `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	genID      *snowflake.Node
	repo       domain.SessionRepository
	providers  domain.ProviderSet
	profileSvc profiledomain.Service
	publisher  liveevents.Publisher
	metrics    *obsmetrics.Metrics
	sessionTTL time.Duration

	cache     *expirable.LRU[string, domain.Session]
	cacheHits prometheus.Counter
	cacheMiss prometheus.Counter
}

func New(p Params) domain.Service {
	ttl := p.Cfg.SessionTTL
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}

	// promauto.With(nil) builds unregistered collectors.
	factory := promauto.With(p.Registerer)
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("identity.service"),
		clock:      p.Clock,
		genID:      p.GenID,
		repo:       p.Repo,
		providers:  p.Providers,
		profileSvc: p.ProfileSvc,
		publisher:  p.Publisher,
		metrics:    p.Metrics,
		sessionTTL: ttl,
		cache:      expirable.NewLRU[string, domain.Session](sessionCacheSize, nil, sessionCacheTTL),
		cacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "creditdesk",
			Subsystem: "session_cache",
			Name:      "hits_total",
			Help:      "Session lookups served from cache.",
		}),
		cacheMiss: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "creditdesk",
			Subsystem: "session_cache",
			Name:      "misses_total",
			Help:      "Session lookups that went to the database.",
		}),
	}
}

func (s *Service) Providers() []domain.ProviderInfo {
	out := make([]domain.ProviderInfo, 0, len(s.providers.Exchangers)+len(s.providers.Verifiers))
	for name := range s.providers.Exchangers {
		out = append(out, domain.ProviderInfo{Name: name, DisplayName: label(name), Flow: domain.FlowRedirect})
	}
	for name := range s.providers.Verifiers {
		if _, ok := s.providers.Exchangers[name]; ok {
			continue
		}
		out = append(out, domain.ProviderInfo{Name: name, DisplayName: label(name), Flow: domain.FlowIDToken})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Service) RedirectURL(ctx context.Context, provider string, req domain.RedirectRequest) (domain.RedirectResult, error) {
	exchanger, ok := s.providers.Exchangers[normalizeProvider(provider)]
	if !ok {
		return domain.RedirectResult{}, domain.ErrProviderNotFound
	}
	if strings.TrimSpace(req.RedirectURI) == "" {
		return domain.RedirectResult{}, domain.ErrInvalidRequest
	}

	state, err := randomToken(24)
	if err != nil {
		return domain.RedirectResult{}, err
	}
	verifier, err := randomToken(32)
	if err != nil {
		return domain.RedirectResult{}, err
	}

	return domain.RedirectResult{
		URL:          exchanger.AuthCodeURL(state, verifier, req.RedirectURI),
		State:        state,
		CodeVerifier: verifier,
	}, nil
}

func (s *Service) ExchangeCode(ctx context.Context, provider string, req domain.ExchangeRequest) (domain.SignInResult, error) {
	provider = normalizeProvider(provider)
	exchanger, ok := s.providers.Exchangers[provider]
	if !ok {
		return domain.SignInResult{}, domain.ErrProviderNotFound
	}
	if strings.TrimSpace(req.Code) == "" || strings.TrimSpace(req.CodeVerifier) == "" {
		return domain.SignInResult{}, domain.ErrInvalidRequest
	}

	identity, err := exchanger.Exchange(ctx, req.Code, req.CodeVerifier, req.RedirectURI)
	if err != nil {
		return domain.SignInResult{}, s.signInFailed(ctx, provider, err)
	}
	return s.signIn(ctx, provider, identity, req.Meta)
}

func (s *Service) SignInWithIDToken(ctx context.Context, provider string, req domain.IDTokenRequest) (domain.SignInResult, error) {
	provider = normalizeProvider(provider)
	verifier, ok := s.providers.Verifiers[provider]
	if !ok {
		return domain.SignInResult{}, domain.ErrProviderNotFound
	}
	if strings.TrimSpace(req.IDToken) == "" {
		return domain.SignInResult{}, domain.ErrInvalidRequest
	}

	identity, err := verifier.Verify(ctx, req.IDToken)
	if err != nil {
		return domain.SignInResult{}, s.signInFailed(ctx, provider, err)
	}
	return s.signIn(ctx, provider, identity, req.Meta)
}

func (s *Service) signInFailed(ctx context.Context, provider string, err error) error {
	s.log.Warn("sign in rejected", zap.String("provider", provider), zap.Error(err))
	s.metrics.RecordSignIn(ctx, provider, "rejected")
	if errors.Is(err, domain.ErrInvalidRequest) {
		return domain.ErrInvalidRequest
	}
	if errors.Is(err, domain.ErrInvalidCredentials) {
		return domain.ErrInvalidCredentials
	}
	return fmt.Errorf("%w: %v", domain.ErrInvalidCredentials, err)
}

func (s *Service) signIn(ctx context.Context, provider string, identity domain.Identity, meta domain.RequestMeta) (domain.SignInResult, error) {
	if strings.TrimSpace(identity.UID) == "" {
		return domain.SignInResult{}, s.signInFailed(ctx, provider, domain.ErrInvalidCredentials)
	}

	profile, created, err := s.profileSvc.Ensure(ctx, profiledomain.EnsureRequest{
		UID:   identity.UID,
		Name:  identity.Name,
		Email: identity.Email,
	})
	if err != nil {
		return domain.SignInResult{}, fmt.Errorf("ensure profile: %w", err)
	}

	rawToken, err := newSessionToken()
	if err != nil {
		return domain.SignInResult{}, err
	}

	now := s.clock.Now()
	session := domain.Session{
		ID:          s.genID.Generate(),
		UserID:      identity.UID,
		Provider:    provider,
		DisplayName: profile.Name,
		Email:       identity.Email,
		TokenHash:   hashToken(rawToken),
		Scopes:      identity.Scopes,
		UserAgent:   truncate(meta.UserAgent, 512),
		IPAddress:   truncate(meta.IPAddress, 64),
		ExpiresAt:   now.Add(s.sessionTTL),
		CreatedAt:   now,
		LastSeenAt:  now,
	}
	if err := s.repo.Create(ctx, s.db, &session); err != nil {
		return domain.SignInResult{}, err
	}

	s.metrics.RecordSignIn(ctx, provider, "success")
	s.log.Info("signed in",
		zap.String("provider", provider),
		zap.String("user_id", identity.UID),
		zap.String("session_id", session.ID.String()),
		zap.Bool("profile_created", created),
	)

	return domain.SignInResult{
		RawToken:  rawToken,
		ExpiresAt: session.ExpiresAt,
		Session:   session,
		Profile:   profile,
		Created:   created,
	}, nil
}

func (s *Service) Authenticate(ctx context.Context, rawToken string) (*domain.Session, error) {
	token := strings.TrimSpace(rawToken)
	if token == "" {
		return nil, domain.ErrInvalidSession
	}
	hash := hashToken(token)
	now := s.clock.Now()

	if cached, ok := s.cache.Get(hash); ok {
		s.cacheHits.Inc()
		if err := checkLive(cached, now); err != nil {
			s.cache.Remove(hash)
			return nil, err
		}
		return &cached, nil
	}
	s.cacheMiss.Inc()

	session, err := s.repo.FindByTokenHash(ctx, s.db, hash)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return nil, domain.ErrInvalidSession
		}
		return nil, err
	}
	if err := checkLive(*session, now); err != nil {
		return nil, err
	}

	if err := s.repo.Touch(ctx, s.db, session.ID, now); err != nil {
		return nil, err
	}
	session.LastSeenAt = now
	s.cache.Add(hash, *session)
	return session, nil
}

func (s *Service) SignOut(ctx context.Context, rawToken string) error {
	token := strings.TrimSpace(rawToken)
	if token == "" {
		return domain.ErrInvalidSession
	}
	hash := hashToken(token)
	s.cache.Remove(hash)

	session, err := s.repo.FindByTokenHash(ctx, s.db, hash)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return domain.ErrInvalidSession
		}
		return err
	}
	if session.RevokedAt != nil {
		return nil
	}

	now := s.clock.Now()
	if _, err := s.repo.Revoke(ctx, s.db, session.ID, now); err != nil {
		return err
	}
	session.RevokedAt = &now

	sessionID := session.ID.String()
	if err := s.publisher.Publish(ctx, liveevents.SessionTopic(sessionID), liveevents.TypeSessionClosed, map[string]string{
		"session_id": sessionID,
	}); err != nil {
		s.log.Warn("publish session closed", zap.String("session_id", sessionID), zap.Error(err))
	}
	s.log.Info("signed out", zap.String("user_id", session.UserID), zap.String("session_id", sessionID))
	return nil
}

func checkLive(session domain.Session, now time.Time) error {
	if session.RevokedAt != nil {
		return domain.ErrSessionRevoked
	}
	if !now.Before(session.ExpiresAt) {
		return domain.ErrSessionExpired
	}
	return nil
}

func normalizeProvider(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func label(name string) string {
	if l, ok := providerLabels[name]; ok {
		return l
	}
	return name
}

func truncate(value string, max int) string {
	value = strings.TrimSpace(value)
	if len(value) <= max {
		return value
	}
	// cut on a rune boundary so the column stays valid UTF-8
	end := max
	for end > 0 && !utf8.RuneStart(value[end]) {
		end--
	}
	return value[:end]
}

func randomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func newSessionToken() (string, error) {
	return randomToken(sessionTokenBytes)
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
