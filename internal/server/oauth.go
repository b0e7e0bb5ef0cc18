package server

import (
	"crypto/hmac"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	identitydomain "github.com/shortyai/creditdesk/internal/identity/domain"
	"go.uber.org/zap"
)

const (
	oauthStateCookie     = "oauth_state"
	oauthVerifierCookie  = "oauth_code_verifier"
	oauthRedirectCookie  = "oauth_redirect_to"
	oauthStateTTL        = 10 * time.Minute
	oauthErrorRedirectTo = "/login?error=oauth_login"
)

// OAuthLogin serves both legs of the redirect flow: without a code it starts
// the flow, with one it is the provider callback.
func (s *Server) OAuthLogin(c *gin.Context) {
	provider := strings.ToLower(strings.TrimSpace(c.Param("name")))
	if provider == "" {
		AbortWithError(c, ErrNotFound)
		return
	}

	if strings.TrimSpace(c.Query("error")) != "" {
		s.logOAuthError(c, provider)
		s.clearOAuthCookies(c)
		redirectToOAuthError(c)
		return
	}

	code := strings.TrimSpace(c.Query("code"))
	if code == "" {
		if err := s.startOAuthLogin(c, provider); err != nil {
			s.handleOAuthError(c, provider, err)
		}
		return
	}

	if err := s.handleOAuthCallback(c, provider, code); err != nil {
		s.handleOAuthError(c, provider, err)
	}
}

func (s *Server) startOAuthLogin(c *gin.Context, provider string) error {
	result, err := s.identitySvc.RedirectURL(c.Request.Context(), provider, identitydomain.RedirectRequest{
		RedirectURI: oauthRedirectURI(c, provider),
	})
	if err != nil {
		return err
	}

	s.setOAuthCookie(c, oauthStateCookie, result.State)
	if strings.TrimSpace(result.CodeVerifier) != "" {
		s.setOAuthCookie(c, oauthVerifierCookie, result.CodeVerifier)
	}

	redirectTarget := sanitizeRedirectPath(firstNonEmpty(c.Query("redirectTo"), c.Query("redirect_to")))
	if redirectTarget != "" {
		s.setOAuthCookie(c, oauthRedirectCookie, redirectTarget)
	}

	c.Redirect(http.StatusFound, result.URL)
	return nil
}

func (s *Server) handleOAuthCallback(c *gin.Context, provider string, code string) error {
	state := strings.TrimSpace(c.Query("state"))
	storedState, err := c.Cookie(oauthStateCookie)
	if err != nil || storedState == "" || state == "" || !subtleConstantEquals(state, storedState) {
		s.clearOAuthCookies(c)
		return ErrUnauthorized
	}

	verifier, _ := c.Cookie(oauthVerifierCookie)
	redirectTarget, _ := c.Cookie(oauthRedirectCookie)
	s.clearOAuthCookies(c)

	result, err := s.identitySvc.ExchangeCode(c.Request.Context(), provider, identitydomain.ExchangeRequest{
		Code:         code,
		RedirectURI:  oauthRedirectURI(c, provider),
		CodeVerifier: verifier,
		Meta:         requestMeta(c),
	})
	if err != nil {
		return err
	}
	s.sessions.Set(c, result.RawToken, result.ExpiresAt)

	redirectTarget = sanitizeRedirectPath(redirectTarget)
	if redirectTarget == "" {
		redirectTarget = "/"
	}
	c.Redirect(http.StatusFound, redirectTarget)
	return nil
}

func requestMeta(c *gin.Context) identitydomain.RequestMeta {
	return identitydomain.RequestMeta{
		UserAgent: strings.TrimSpace(c.Request.UserAgent()),
		IPAddress: strings.TrimSpace(c.ClientIP()),
	}
}

func oauthRedirectURI(c *gin.Context, provider string) string {
	return fmt.Sprintf("%s/login/%s", requestBaseURL(c), url.PathEscape(provider))
}

func requestBaseURL(c *gin.Context) string {
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	if proto := firstHeaderValue(c.GetHeader("X-Forwarded-Proto")); proto != "" {
		scheme = strings.ToLower(proto)
	}
	host := c.Request.Host
	if forwarded := firstHeaderValue(c.GetHeader("X-Forwarded-Host")); forwarded != "" {
		host = forwarded
	}
	return scheme + "://" + host
}

func (s *Server) handleOAuthError(c *gin.Context, provider string, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, identitydomain.ErrProviderNotFound):
		AbortWithError(c, ErrNotFound)
	default:
		s.log.Warn("oauth login failed", zap.String("provider", provider), zap.Error(err))
		redirectToOAuthError(c)
	}
}

func (s *Server) logOAuthError(c *gin.Context, provider string) {
	s.log.Warn("oauth provider returned error",
		zap.String("provider", provider),
		zap.String("error", strings.TrimSpace(c.Query("error"))),
		zap.String("description", strings.TrimSpace(c.Query("error_description"))),
	)
}

func redirectToOAuthError(c *gin.Context) {
	c.Redirect(http.StatusFound, oauthErrorRedirectTo)
}

func firstHeaderValue(value string) string {
	if value == "" {
		return ""
	}
	if idx := strings.Index(value, ","); idx >= 0 {
		value = value[:idx]
	}
	return strings.TrimSpace(value)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// sanitizeRedirectPath only allows same-origin absolute paths.
func sanitizeRedirectPath(raw string) string {
	value := strings.TrimSpace(raw)
	if value == "" {
		return ""
	}
	if strings.HasPrefix(value, "//") || strings.HasPrefix(value, "/\\") {
		return ""
	}
	if !strings.HasPrefix(value, "/") {
		return ""
	}
	return value
}

func (s *Server) setOAuthCookie(c *gin.Context, name string, value string) {
	s.sessions.SetNamed(c, name, value, int(oauthStateTTL.Seconds()))
}

func (s *Server) clearOAuthCookies(c *gin.Context) {
	for _, name := range []string{oauthStateCookie, oauthVerifierCookie, oauthRedirectCookie} {
		s.sessions.SetNamed(c, name, "", -1)
	}
}

func subtleConstantEquals(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}
