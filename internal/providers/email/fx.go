package email

import (
	"strings"

	"github.com/shortyai/creditdesk/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("providers.email",
	fx.Provide(NewFromConfig),
)

func NewFromConfig(cfg config.Config) Provider {
	if strings.TrimSpace(cfg.Mail.Host) == "" {
		return &NoOpProvider{}
	}
	return NewSMTP(Config{
		Host:     cfg.Mail.Host,
		Port:     cfg.Mail.Port,
		Username: cfg.Mail.Username,
		Password: cfg.Mail.Password,
		From:     cfg.Mail.From,
	})
}
