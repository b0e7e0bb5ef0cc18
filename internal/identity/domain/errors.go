package domain

import "errors"

var (
	ErrInvalidCredentials = errors.New("invalid_credentials")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrProviderNotFound   = errors.New("provider_not_found")
	ErrSessionNotFound    = errors.New("session_not_found")
	ErrSessionExpired     = errors.New("session_expired")
	ErrSessionRevoked     = errors.New("session_revoked")
	ErrInvalidSession     = errors.New("invalid_session")
)
