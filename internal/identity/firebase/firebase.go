// Package firebase verifies Firebase Authentication ID tokens.
package firebase

import (
	"context"
	"fmt"
	"strings"

	fb "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"github.com/shortyai/creditdesk/internal/config"
	"github.com/shortyai/creditdesk/internal/identity/domain"
	"google.golang.org/api/option"
)

// TokenVerifier is the subset of *auth.Client the verifier needs.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
}

type Verifier struct {
	client TokenVerifier
}

func NewVerifier(client TokenVerifier) *Verifier {
	return &Verifier{client: client}
}

// NewFromConfig initializes the Firebase app. Explicit credentials win over
// application default credentials.
func NewFromConfig(ctx context.Context, cfg config.FirebaseConfig) (*Verifier, error) {
	var opts []option.ClientOption
	switch {
	case cfg.CredentialsJSON != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
	case cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	app, err := fb.NewApp(ctx, &fb.Config{ProjectID: cfg.ProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase app: %w", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase auth client: %w", err)
	}
	return NewVerifier(client), nil
}

func (v *Verifier) Verify(ctx context.Context, rawIDToken string) (domain.Identity, error) {
	rawIDToken = strings.TrimSpace(rawIDToken)
	if rawIDToken == "" {
		return domain.Identity{}, domain.ErrInvalidCredentials
	}
	token, err := v.client.VerifyIDToken(ctx, rawIDToken)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: %v", domain.ErrInvalidCredentials, err)
	}
	if token == nil || strings.TrimSpace(token.UID) == "" {
		return domain.Identity{}, fmt.Errorf("%w: missing uid", domain.ErrInvalidCredentials)
	}

	return domain.Identity{
		UID:      token.UID,
		Email:    claimString(token.Claims, "email"),
		Name:     claimString(token.Claims, "name"),
		Provider: domain.ProviderFirebase,
	}, nil
}

func claimString(claims map[string]interface{}, key string) string {
	if claims == nil {
		return ""
	}
	value, _ := claims[key].(string)
	return strings.TrimSpace(value)
}

var _ domain.IDTokenVerifier = (*Verifier)(nil)
