package domain

import (
	"context"
	"time"

	profiledomain "github.com/shortyai/creditdesk/internal/profile/domain"
)

//go:generate mockgen -source=service.go -destination=../mocks/mock_service.go -package=mocks

// IDTokenVerifier checks a provider-issued ID token and returns the identity it asserts.
type IDTokenVerifier interface {
	Verify(ctx context.Context, rawIDToken string) (Identity, error)
}

// CodeExchanger drives an OAuth2 authorization code flow with PKCE.
type CodeExchanger interface {
	AuthCodeURL(state, verifier, redirectURI string) string
	Exchange(ctx context.Context, code, verifier, redirectURI string) (Identity, error)
}

type Service interface {
	Providers() []ProviderInfo
	RedirectURL(ctx context.Context, provider string, req RedirectRequest) (RedirectResult, error)
	ExchangeCode(ctx context.Context, provider string, req ExchangeRequest) (SignInResult, error)
	SignInWithIDToken(ctx context.Context, provider string, req IDTokenRequest) (SignInResult, error)
	Authenticate(ctx context.Context, rawToken string) (*Session, error)
	SignOut(ctx context.Context, rawToken string) error
}

type RequestMeta struct {
	UserAgent string
	IPAddress string
}

type RedirectRequest struct {
	RedirectURI string
}

type RedirectResult struct {
	URL          string
	State        string
	CodeVerifier string
}

type ExchangeRequest struct {
	Code         string
	RedirectURI  string
	CodeVerifier string
	Meta         RequestMeta
}

type IDTokenRequest struct {
	IDToken string
	Meta    RequestMeta
}

type SignInResult struct {
	RawToken  string
	ExpiresAt time.Time
	Session   Session
	Profile   profiledomain.Profile
	Created   bool
}

// ProviderSet holds the sign-in providers enabled by configuration, keyed by
// provider name.
type ProviderSet struct {
	Exchangers map[string]CodeExchanger
	Verifiers  map[string]IDTokenVerifier
}
