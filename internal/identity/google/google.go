// Package google verifies Google ID tokens and runs the OAuth2 code flow
// that also asks for YouTube upload access.
package google

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/shortyai/creditdesk/internal/identity/domain"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
)

const (
	DefaultJWKSURL     = "https://www.googleapis.com/oauth2/v3/certs"
	ScopeYouTubeUpload = "https://www.googleapis.com/auth/youtube.upload"
)

var (
	DefaultScopes = []string{"openid", "email", "profile", ScopeYouTubeUpload}

	issuers = map[string]struct{}{
		"accounts.google.com":         {},
		"https://accounts.google.com": {},
	}
)

type claims struct {
	jwt.RegisteredClaims
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
}

// Verifier checks RS256 ID tokens against Google's published keys.
type Verifier struct {
	keys     keyfunc.Keyfunc
	clientID string
}

func NewVerifier(keys keyfunc.Keyfunc, clientID string) *Verifier {
	return &Verifier{keys: keys, clientID: strings.TrimSpace(clientID)}
}

// NewRemoteVerifier keeps the JWKS refreshed in the background. Startup does
// not fail when Google is unreachable; the first Verify retries the fetch.
func NewRemoteVerifier(ctx context.Context, jwksURL, clientID string, log *zap.Logger) (*Verifier, error) {
	if strings.TrimSpace(jwksURL) == "" {
		jwksURL = DefaultJWKSURL
	}
	storage, err := jwkset.NewStorageFromHTTP(jwksURL, jwkset.HTTPClientStorageOptions{
		Client:                    &http.Client{Timeout: 10 * time.Second},
		Ctx:                       ctx,
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           time.Hour,
		RefreshErrorHandler: func(_ context.Context, err error) {
			log.Warn("refresh google jwks", zap.String("url", jwksURL), zap.Error(err))
		},
	})
	if err != nil {
		return nil, fmt.Errorf("google jwks storage: %w", err)
	}
	keys, err := keyfunc.New(keyfunc.Options{Ctx: ctx, Storage: storage})
	if err != nil {
		return nil, fmt.Errorf("google keyfunc: %w", err)
	}
	return NewVerifier(keys, clientID), nil
}

func (v *Verifier) Verify(ctx context.Context, rawIDToken string) (domain.Identity, error) {
	rawIDToken = strings.TrimSpace(rawIDToken)
	if rawIDToken == "" {
		return domain.Identity{}, domain.ErrInvalidCredentials
	}

	var c claims
	_, err := jwt.ParseWithClaims(rawIDToken, &c, v.keys.KeyfuncCtx(ctx),
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithExpirationRequired(),
		jwt.WithAudience(v.clientID),
		jwt.WithLeeway(30*time.Second),
	)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: %v", domain.ErrInvalidCredentials, err)
	}
	if _, ok := issuers[c.Issuer]; !ok {
		return domain.Identity{}, fmt.Errorf("%w: unexpected issuer %q", domain.ErrInvalidCredentials, c.Issuer)
	}
	if strings.TrimSpace(c.Subject) == "" {
		return domain.Identity{}, fmt.Errorf("%w: missing subject", domain.ErrInvalidCredentials)
	}

	email := c.Email
	if !c.EmailVerified {
		email = ""
	}
	return domain.Identity{
		UID:      c.Subject,
		Email:    email,
		Name:     c.Name,
		Provider: domain.ProviderGoogle,
	}, nil
}

// Exchanger drives the authorization code flow with PKCE and verifies the
// returned id_token.
type Exchanger struct {
	clientID     string
	clientSecret string
	endpoint     oauth2.Endpoint
	scopes       []string
	verifier     domain.IDTokenVerifier
	httpClient   *http.Client
}

type ExchangerOption func(*Exchanger)

func WithEndpoint(endpoint oauth2.Endpoint) ExchangerOption {
	return func(e *Exchanger) { e.endpoint = endpoint }
}

func WithHTTPClient(client *http.Client) ExchangerOption {
	return func(e *Exchanger) { e.httpClient = client }
}

func WithScopes(scopes ...string) ExchangerOption {
	return func(e *Exchanger) { e.scopes = scopes }
}

func NewExchanger(clientID, clientSecret string, verifier domain.IDTokenVerifier, opts ...ExchangerOption) *Exchanger {
	e := &Exchanger{
		clientID:     strings.TrimSpace(clientID),
		clientSecret: strings.TrimSpace(clientSecret),
		endpoint:     googleoauth.Endpoint,
		scopes:       DefaultScopes,
		verifier:     verifier,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Exchanger) config(redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     e.clientID,
		ClientSecret: e.clientSecret,
		Endpoint:     e.endpoint,
		RedirectURL:  redirectURI,
		Scopes:       e.scopes,
	}
}

func (e *Exchanger) AuthCodeURL(state, verifier, redirectURI string) string {
	return e.config(redirectURI).AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.S256ChallengeOption(verifier),
		oauth2.SetAuthURLParam("include_granted_scopes", "true"),
	)
}

func (e *Exchanger) Exchange(ctx context.Context, code, verifier, redirectURI string) (domain.Identity, error) {
	if strings.TrimSpace(code) == "" {
		return domain.Identity{}, domain.ErrInvalidRequest
	}
	if e.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, e.httpClient)
	}

	token, err := e.config(redirectURI).Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: exchange: %v", domain.ErrInvalidCredentials, err)
	}
	rawIDToken, _ := token.Extra("id_token").(string)
	if rawIDToken == "" {
		return domain.Identity{}, fmt.Errorf("%w: token response without id_token", domain.ErrInvalidCredentials)
	}

	identity, err := e.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return domain.Identity{}, err
	}
	identity.Scopes = grantedScopes(token)
	return identity, nil
}

func grantedScopes(token *oauth2.Token) []string {
	raw, _ := token.Extra("scope").(string)
	return strings.Fields(raw)
}

var (
	_ domain.IDTokenVerifier = (*Verifier)(nil)
	_ domain.CodeExchanger   = (*Exchanger)(nil)
)
