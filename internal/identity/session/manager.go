package session

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shortyai/creditdesk/internal/config"
)

const DefaultCookieName = "_sid"

// Manager manages auth session cookies.
type Manager struct {
	cookieName string
	secure     bool
	now        func() time.Time
}

func NewManager(cfg config.Config) *Manager {
	return &Manager{
		cookieName: DefaultCookieName,
		secure:     cfg.AuthCookieSecure,
		now:        time.Now,
	}
}

func (m *Manager) CookieName() string {
	return m.cookieName
}

func (m *Manager) ReadToken(c *gin.Context) (string, bool) {
	token, err := c.Cookie(m.cookieName)
	if err != nil {
		return "", false
	}
	if strings.TrimSpace(token) == "" {
		return "", false
	}
	return token, true
}

func (m *Manager) Set(c *gin.Context, value string, expiresAt time.Time) {
	maxAge := int(expiresAt.Sub(m.now()).Seconds())
	if maxAge < 0 {
		maxAge = 0
	}
	m.SetNamed(c, m.cookieName, value, maxAge)
}

func (m *Manager) Clear(c *gin.Context) {
	m.SetNamed(c, m.cookieName, "", -1)
}

// SetNamed writes an auxiliary HttpOnly cookie, e.g. OAuth state.
func (m *Manager) SetNamed(c *gin.Context, name, value string, maxAge int) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(name, value, maxAge, "/", "", m.secure, true)
}
