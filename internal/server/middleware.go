package server

import (
	"errors"

	"github.com/gin-gonic/gin"
	identitydomain "github.com/shortyai/creditdesk/internal/identity/domain"
	obscontext "github.com/shortyai/creditdesk/internal/observability/context"
	paymentdomain "github.com/shortyai/creditdesk/internal/payment/domain"
	profiledomain "github.com/shortyai/creditdesk/internal/profile/domain"
)

const (
	contextUserIDKey  = "user_id"
	contextSessionKey = "session"
	contextProfileKey = "profile"
)

// AuthRequired resolves the session cookie into a live session and the
// signed-in profile. The profile is read on every request so role changes
// apply without signing in again.
func (s *Server) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := s.sessions.ReadToken(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		sess, err := s.identitySvc.Authenticate(c.Request.Context(), token)
		if err != nil {
			if isSessionError(err) {
				s.sessions.Clear(c)
			}
			AbortWithError(c, err)
			return
		}

		prof, err := s.profileSvc.Get(c.Request.Context(), sess.UserID)
		if err != nil {
			if errors.Is(err, profiledomain.ErrNotFound) {
				err = ErrUnauthorized
			}
			AbortWithError(c, err)
			return
		}

		ctx := obscontext.WithActor(c.Request.Context(), "user", sess.UserID)
		ctx = obscontext.WithSessionID(ctx, sess.ID.String())
		c.Request = c.Request.WithContext(ctx)

		c.Set(contextUserIDKey, sess.UserID)
		c.Set(contextSessionKey, sess)
		c.Set(contextProfileKey, prof)
		c.Next()
	}
}

func isSessionError(err error) bool {
	return errors.Is(err, identitydomain.ErrInvalidSession) ||
		errors.Is(err, identitydomain.ErrSessionExpired) ||
		errors.Is(err, identitydomain.ErrSessionRevoked)
}

func sessionFromContext(c *gin.Context) (*identitydomain.Session, bool) {
	v, ok := c.Get(contextSessionKey)
	if !ok {
		return nil, false
	}
	sess, ok := v.(*identitydomain.Session)
	return sess, ok && sess != nil
}

func profileFromContext(c *gin.Context) (profiledomain.Profile, bool) {
	v, ok := c.Get(contextProfileKey)
	if !ok {
		return profiledomain.Profile{}, false
	}
	prof, ok := v.(profiledomain.Profile)
	return prof, ok
}

func viewerFromContext(c *gin.Context) (paymentdomain.Viewer, bool) {
	prof, ok := profileFromContext(c)
	if !ok {
		return paymentdomain.Viewer{}, false
	}
	return paymentdomain.Viewer{
		UserID: prof.UID,
		Name:   prof.Name,
		Email:  prof.Email,
		Admin:  prof.IsAdmin(),
	}, true
}
