package server

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	identitydomain "github.com/shortyai/creditdesk/internal/identity/domain"
	"go.uber.org/zap"
)

type AuthProviderInfo struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Flow        string `json:"flow"`
	LoginPath   string `json:"login_path,omitempty"`
}

type createSessionRequest struct {
	Provider string `json:"provider"`
	IDToken  string `json:"id_token" binding:"required"`
}

func (s *Server) ListProviders(c *gin.Context) {
	infos := s.identitySvc.Providers()
	providers := make([]AuthProviderInfo, 0, len(infos))
	for _, info := range infos {
		item := AuthProviderInfo{
			Name:        info.Name,
			DisplayName: info.DisplayName,
			Flow:        info.Flow,
		}
		if info.Flow == identitydomain.FlowRedirect {
			item.LoginPath = "/login/" + url.PathEscape(info.Name)
		}
		providers = append(providers, item)
	}

	c.JSON(http.StatusOK, gin.H{"providers": providers})
}

// CreateSession signs in with a client-obtained ID token, e.g. from the
// Firebase web SDK.
func (s *Server) CreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindError(err))
		return
	}

	provider := strings.TrimSpace(req.Provider)
	if provider == "" {
		provider = identitydomain.ProviderFirebase
	}

	result, err := s.identitySvc.SignInWithIDToken(c.Request.Context(), provider, identitydomain.IDTokenRequest{
		IDToken: req.IDToken,
		Meta:    requestMeta(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.sessions.Set(c, result.RawToken, result.ExpiresAt)
	c.JSON(http.StatusOK, gin.H{
		"authenticated": true,
		"session":       result.Session,
		"profile":       result.Profile,
		"created":       result.Created,
	})
}

func (s *Server) Logout(c *gin.Context) {
	token, ok := s.sessions.ReadToken(c)
	s.sessions.Clear(c)
	if !ok {
		c.Status(http.StatusNoContent)
		return
	}

	if err := s.identitySvc.SignOut(c.Request.Context(), token); err != nil && !isSessionError(err) {
		s.log.Warn("sign out failed", zap.Error(err))
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Me never fails on a missing or dead session; the dashboard uses it to
// decide between the sign-in page and the app.
func (s *Server) Me(c *gin.Context) {
	token, ok := s.sessions.ReadToken(c)
	if !ok {
		c.JSON(http.StatusOK, gin.H{"authenticated": false})
		return
	}

	sess, err := s.identitySvc.Authenticate(c.Request.Context(), token)
	if err != nil {
		if isSessionError(err) {
			s.sessions.Clear(c)
			c.JSON(http.StatusOK, gin.H{"authenticated": false})
			return
		}
		AbortWithError(c, err)
		return
	}

	prof, err := s.profileSvc.Get(c.Request.Context(), sess.UserID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"authenticated": true,
		"session":       sess,
		"profile":       prof,
	})
}
