package credit

import (
	"github.com/shortyai/creditdesk/internal/credit/repository"
	"github.com/shortyai/creditdesk/internal/credit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("credit.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
