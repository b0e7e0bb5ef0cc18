package identity

import (
	"context"

	"github.com/shortyai/creditdesk/internal/config"
	"github.com/shortyai/creditdesk/internal/identity/domain"
	"github.com/shortyai/creditdesk/internal/identity/firebase"
	"github.com/shortyai/creditdesk/internal/identity/google"
	"github.com/shortyai/creditdesk/internal/identity/repository"
	"github.com/shortyai/creditdesk/internal/identity/service"
	"github.com/shortyai/creditdesk/internal/identity/session"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("identity.service",
	fx.Provide(repository.Provide),
	fx.Provide(provideProviders),
	fx.Provide(service.New),
	session.Module,
)

func provideProviders(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (domain.ProviderSet, error) {
	set := domain.ProviderSet{
		Exchangers: map[string]domain.CodeExchanger{},
		Verifiers:  map[string]domain.IDTokenVerifier{},
	}

	if cfg.Google.Enabled && cfg.Google.ClientID != "" {
		// JWKS refresh runs until shutdown.
		ctx, cancel := context.WithCancel(context.Background())
		lc.Append(fx.Hook{OnStop: func(context.Context) error {
			cancel()
			return nil
		}})

		verifier, err := google.NewRemoteVerifier(ctx, cfg.Google.JWKSURL, cfg.Google.ClientID, log)
		if err != nil {
			cancel()
			return set, err
		}
		set.Verifiers[domain.ProviderGoogle] = verifier
		if cfg.Google.ClientSecret != "" {
			set.Exchangers[domain.ProviderGoogle] = google.NewExchanger(cfg.Google.ClientID, cfg.Google.ClientSecret, verifier)
		}
	}

	if cfg.Firebase.Enabled {
		verifier, err := firebase.NewFromConfig(context.Background(), cfg.Firebase)
		if err != nil {
			return set, err
		}
		set.Verifiers[domain.ProviderFirebase] = verifier
	}

	if len(set.Exchangers)+len(set.Verifiers) == 0 {
		log.Warn("no sign-in provider configured")
	}
	return set, nil
}
