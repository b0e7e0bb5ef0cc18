package profile

import (
	"github.com/shortyai/creditdesk/internal/profile/repository"
	"github.com/shortyai/creditdesk/internal/profile/service"
	"go.uber.org/fx"
)

var Module = fx.Module("profile.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
